// Package moduledb is a read-only SQLite-backed reference dictionary:
// CAN address → ModuleCategory, UDS DID → human name, DTC code →
// description. It is explicitly NOT diagnostic-session persistence
// (spec.md's Non-goals exclude that); it only ships lookup data the
// scanner and orchestrator consult while decoding live responses.
// Grounded on the database/sql + modernc.org/sqlite usage in
// _examples/snapetech-plexTuner/internal/plex/dvr.go, repurposed from
// writing into Plex's library database to reading this core's own
// bundled reference schema.
package moduledb

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/opendiag/vcicore/internal/diagsession"
)

// DB wraps a read-only handle onto the reference schema.
type DB struct {
	sql *sql.DB
}

// schema creates the three lookup tables. Open(":memory:") plus Seed
// populates an in-process dictionary; a real deployment points path at a
// bundled .sqlite file built from the same schema.
const schema = `
CREATE TABLE IF NOT EXISTS module_address (
	address INTEGER PRIMARY KEY,
	category TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS did_name (
	did INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS dtc_description (
	code TEXT PRIMARY KEY,
	description TEXT NOT NULL
);
`

// Open opens (creating if absent) the SQLite file at path and ensures the
// reference schema exists. Use ":memory:" for a process-local dictionary
// that Seed populates from Go literals.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("moduledb: open %s: %w", path, err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("moduledb: create schema: %w", err)
	}
	return &DB{sql: sqlDB}, nil
}

func (d *DB) Close() error { return d.sql.Close() }

// categoryByName maps the stored category name back to the shared
// diagsession.ModuleCategory value.
var categoryByName = map[string]diagsession.ModuleCategory{
	diagsession.CategoryEngine.Name:       diagsession.CategoryEngine,
	diagsession.CategoryTransmission.Name: diagsession.CategoryTransmission,
	diagsession.CategoryABS.Name:          diagsession.CategoryABS,
	diagsession.CategoryAirbag.Name:       diagsession.CategoryAirbag,
	diagsession.CategoryBodyControl.Name:  diagsession.CategoryBodyControl,
	diagsession.CategoryInstrument.Name:   diagsession.CategoryInstrument,
	diagsession.CategoryClimate.Name:      diagsession.CategoryClimate,
}

// Seed populates the dictionary with the built-in reference data this
// core ships (spec.md §4.9's DID set, the common address convention, and
// a handful of well-known generic powertrain DTC descriptions).
func (d *DB) Seed() error {
	tx, err := d.sql.Begin()
	if err != nil {
		return err
	}
	for addr, cat := range map[uint16]diagsession.ModuleCategory{
		0x7E0: diagsession.CategoryEngine, 0x7E8: diagsession.CategoryEngine,
		0x7E1: diagsession.CategoryTransmission, 0x7E9: diagsession.CategoryTransmission,
		0x7E2: diagsession.CategoryABS, 0x7EA: diagsession.CategoryABS,
		0x7E3: diagsession.CategoryAirbag, 0x7EB: diagsession.CategoryAirbag,
		0x7E4: diagsession.CategoryBodyControl, 0x7EC: diagsession.CategoryBodyControl,
		0x7E5: diagsession.CategoryInstrument, 0x7ED: diagsession.CategoryInstrument,
		0x7E6: diagsession.CategoryClimate, 0x7EE: diagsession.CategoryClimate,
	} {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO module_address (address, category) VALUES (?, ?)`, addr, cat.Name); err != nil {
			tx.Rollback()
			return fmt.Errorf("moduledb: seed module_address: %w", err)
		}
	}
	for did, name := range map[uint16]string{
		0xF194: "Application Software Identification",
		0xF18C: "ECU Serial Number",
		0xF187: "Vehicle Manufacturer Spare Part Number",
		0xF190: "Vehicle Identification Number",
		0xF195: "System Supplier ECU Software Version Number",
	} {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO did_name (did, name) VALUES (?, ?)`, did, name); err != nil {
			tx.Rollback()
			return fmt.Errorf("moduledb: seed did_name: %w", err)
		}
	}
	for code, desc := range map[string]string{
		"P0300": "Random/Multiple Cylinder Misfire Detected",
		"P0301": "Cylinder 1 Misfire Detected",
		"P0171": "System Too Lean (Bank 1)",
		"P0420": "Catalyst System Efficiency Below Threshold (Bank 1)",
		"P0128": "Coolant Thermostat (Coolant Temperature Below Thermostat Regulating Temperature)",
	} {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO dtc_description (code, description) VALUES (?, ?)`, code, desc); err != nil {
			tx.Rollback()
			return fmt.Errorf("moduledb: seed dtc_description: %w", err)
		}
	}
	return tx.Commit()
}

// CategoryForAddress looks up address, falling back to
// diagsession.CategoryForAddress's coarse convention when no row exists.
func (d *DB) CategoryForAddress(address uint16) diagsession.ModuleCategory {
	var name string
	err := d.sql.QueryRow(`SELECT category FROM module_address WHERE address = ?`, address).Scan(&name)
	if err != nil {
		return diagsession.CategoryForAddress(address)
	}
	if cat, ok := categoryByName[name]; ok {
		return cat
	}
	return diagsession.CategoryUnknown
}

// DIDName returns the human name registered for did, or "" if unknown.
func (d *DB) DIDName(did uint16) string {
	var name string
	if err := d.sql.QueryRow(`SELECT name FROM did_name WHERE did = ?`, did).Scan(&name); err != nil {
		return ""
	}
	return name
}

// DTCDescription returns the registered description for a DTC code, or
// "" if unknown.
func (d *DB) DTCDescription(code string) string {
	var desc string
	if err := d.sql.QueryRow(`SELECT description FROM dtc_description WHERE code = ?`, code).Scan(&desc); err != nil {
		return ""
	}
	return desc
}
