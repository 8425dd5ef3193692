// Package simulator implements the deterministic + stochastic vehicle
// model of spec.md §4.10: a transport that answers the ELM327/OBD-II
// surface indistinguishably from a real vehicle, so the orchestrator
// "must not branch on transport identity" (spec.md §9). Grounded on the
// smoothing/jitter pattern this core's teacher never needed — built in
// the teacher's plain, comment-sparse style instead (no example repo in
// the pack models a physical process; see DESIGN.md).
package simulator

import (
	"math/rand"
	"time"
)

// Scenario selects the target vehicle state the model interpolates
// toward (spec.md §4.10).
type Scenario int

const (
	Off Scenario = iota
	Idle
	City
	Highway
	Aggressive
	ColdStart
	EngineProblem
	Overheating
)

// Profile is a configurable vehicle archetype (spec.md §4.10).
type Profile struct {
	Name             string
	IdleRPM          float64
	RedlineRPM       float64
	MaxSpeedKPH      float64
	NormalCoolantC   float64
	NormalOilC       float64
	NormalIntakeC    float64
	NormalAmbientC   float64
	VIN              string
}

var (
	ProfileStandard = Profile{Name: "standard", IdleRPM: 800, RedlineRPM: 6500, MaxSpeedKPH: 190, NormalCoolantC: 90, NormalOilC: 100, NormalIntakeC: 35, NormalAmbientC: 22, VIN: "1OPENDIAG0TEST123"}
	ProfileSports   = Profile{Name: "sports", IdleRPM: 1000, RedlineRPM: 8500, MaxSpeedKPH: 300, NormalCoolantC: 95, NormalOilC: 110, NormalIntakeC: 38, NormalAmbientC: 22, VIN: "1OPENDIAGSPORT001"}
	ProfileDiesel   = Profile{Name: "diesel", IdleRPM: 650, RedlineRPM: 4500, MaxSpeedKPH: 150, NormalCoolantC: 88, NormalOilC: 95, NormalIntakeC: 30, NormalAmbientC: 22, VIN: "1OPENDIAGDIESEL01"}
)

// state is the live, continuously-updated vehicle state the model
// interpolates toward a scenario's targets (spec.md §4.10).
type state struct {
	RPM          float64
	SpeedKPH     float64
	CoolantC     float64
	OilC         float64
	IntakeC      float64
	AmbientC     float64
	MAFgs        float64
	FuelTrimSPct float64
	FuelTrimLPct float64
	BatteryV     float64
	FuelLevelPct float64
}

// targets returns the steady-state values state interpolates toward for
// (scenario, profile).
func targets(scenario Scenario, p Profile) state {
	switch scenario {
	case Off:
		return state{RPM: 0, SpeedKPH: 0, CoolantC: p.NormalAmbientC, OilC: p.NormalAmbientC, IntakeC: p.NormalAmbientC, AmbientC: p.NormalAmbientC, MAFgs: 0, BatteryV: 12.6, FuelLevelPct: 60}
	case Idle:
		return state{RPM: p.IdleRPM, SpeedKPH: 0, CoolantC: p.NormalCoolantC, OilC: p.NormalOilC, IntakeC: p.NormalIntakeC, AmbientC: p.NormalAmbientC, MAFgs: 3, BatteryV: 14.2, FuelLevelPct: 60}
	case City:
		return state{RPM: p.IdleRPM * 2.2, SpeedKPH: 45, CoolantC: p.NormalCoolantC, OilC: p.NormalOilC, IntakeC: p.NormalIntakeC + 5, AmbientC: p.NormalAmbientC, MAFgs: 12, BatteryV: 14.3, FuelLevelPct: 55}
	case Highway:
		return state{RPM: p.IdleRPM * 3.5, SpeedKPH: 110, CoolantC: p.NormalCoolantC, OilC: p.NormalOilC + 5, IntakeC: p.NormalIntakeC + 8, AmbientC: p.NormalAmbientC, MAFgs: 22, BatteryV: 14.3, FuelLevelPct: 50}
	case Aggressive:
		return state{RPM: p.RedlineRPM * 0.8, SpeedKPH: p.MaxSpeedKPH * 0.7, CoolantC: p.NormalCoolantC + 8, OilC: p.NormalOilC + 15, IntakeC: p.NormalIntakeC + 15, AmbientC: p.NormalAmbientC, MAFgs: 60, BatteryV: 14.1, FuelLevelPct: 45}
	case ColdStart:
		return state{RPM: p.IdleRPM * 1.5, SpeedKPH: 0, CoolantC: p.NormalAmbientC + 5, OilC: p.NormalAmbientC + 5, IntakeC: p.NormalAmbientC, AmbientC: p.NormalAmbientC, MAFgs: 5, BatteryV: 13.8, FuelLevelPct: 60}
	case Overheating:
		return state{RPM: p.IdleRPM * 1.8, SpeedKPH: 20, CoolantC: p.NormalCoolantC + 35, OilC: p.NormalOilC + 25, IntakeC: p.NormalIntakeC + 20, AmbientC: p.NormalAmbientC, MAFgs: 8, BatteryV: 13.9, FuelLevelPct: 55}
	case EngineProblem:
		return state{RPM: p.IdleRPM * 0.7, SpeedKPH: 0, CoolantC: p.NormalCoolantC + 10, OilC: p.NormalOilC, IntakeC: p.NormalIntakeC, AmbientC: p.NormalAmbientC, MAFgs: 2, BatteryV: 12.9, FuelLevelPct: 60}
	default:
		return state{}
	}
}

// rampRate is how far, per second, each field closes the gap to its
// target (a simple exponential approach rather than a physical model).
const rampRate = 0.35

// step advances cur toward tgt by elapsed (seconds) and adds bounded
// jitter, using rng for reproducibility in tests.
func step(cur, tgt state, elapsedSeconds float64, rng *rand.Rand) state {
	closeGap := func(c, t, jitterAmp float64) float64 {
		alpha := rampRate * elapsedSeconds
		if alpha > 1 {
			alpha = 1
		}
		v := c + (t-c)*alpha
		v += (rng.Float64()*2 - 1) * jitterAmp
		if v < 0 {
			v = 0
		}
		return v
	}
	return state{
		RPM:          closeGap(cur.RPM, tgt.RPM, tgt.RPM*0.01),
		SpeedKPH:     closeGap(cur.SpeedKPH, tgt.SpeedKPH, 0.5),
		CoolantC:     closeGap(cur.CoolantC, tgt.CoolantC, 0.2),
		OilC:         closeGap(cur.OilC, tgt.OilC, 0.2),
		IntakeC:      closeGap(cur.IntakeC, tgt.IntakeC, 0.3),
		AmbientC:     closeGap(cur.AmbientC, tgt.AmbientC, 0.1),
		MAFgs:        closeGap(cur.MAFgs, tgt.MAFgs, tgt.MAFgs*0.05),
		FuelTrimSPct: closeGap(cur.FuelTrimSPct, 2, 1),
		FuelTrimLPct: closeGap(cur.FuelTrimLPct, 3, 1),
		BatteryV:     closeGap(cur.BatteryV, tgt.BatteryV, 0.05),
		FuelLevelPct: closeGap(cur.FuelLevelPct, tgt.FuelLevelPct, 0.02),
	}
}

// clockStep is exposed for tests needing a fixed elapsed duration rather
// than wall-clock time.Since.
func clockStep(d time.Duration) float64 {
	return d.Seconds()
}
