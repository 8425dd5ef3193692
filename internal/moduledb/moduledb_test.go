package moduledb

import (
	"testing"

	"github.com/opendiag/vcicore/internal/diagsession"
)

func openSeeded(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Seed(); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestCategoryForAddressKnown(t *testing.T) {
	db := openSeeded(t)
	if got := db.CategoryForAddress(0x7E0); got.Name != diagsession.CategoryEngine.Name {
		t.Fatalf("got %+v", got)
	}
}

func TestCategoryForAddressFallsBackWhenUnseeded(t *testing.T) {
	db := openSeeded(t)
	if got := db.CategoryForAddress(0x712); got.Name != diagsession.CategoryUnknown.Name {
		t.Fatalf("got %+v", got)
	}
}

func TestDIDNameAndDTCDescription(t *testing.T) {
	db := openSeeded(t)
	if name := db.DIDName(0xF194); name == "" {
		t.Fatalf("expected a name for F194")
	}
	if desc := db.DTCDescription("P0300"); desc == "" {
		t.Fatalf("expected a description for P0300")
	}
	if desc := db.DTCDescription("P9999"); desc != "" {
		t.Fatalf("expected empty description for unknown code, got %q", desc)
	}
}
