// Package aging implements the memory-aging decay model: a prominence score
// blending recency, frequency, importance, and exponential decay, five
// named presets, and the periodic sweep that recomputes prominence across
// a context and flags low-prominence entities as "forgotten" without ever
// deleting them.
//
// The per-entity counters mirror a familiar discovery.CandidateStats
// shape: a small mutable struct keyed by normalized name, incremented on
// access, inspected on a schedule.
package aging

import (
	"math"
	"time"
)

// Preset bundles the tunable parameters behind the formula in 
type Preset struct {
	Name               string
	BaseDecayRate      float64
	HalfLifeDays        float64
	WeightRecency      float64
	WeightFrequency    float64
	MinProminence      float64
	MaxProminence      float64
	ForgottenThreshold float64
	SweepInterval      time.Duration
	ImportanceMult     float64
}

// Presets holds the five named aging presets. Balanced is the
// default used whenever a context does not specify one.
var Presets = map[string]Preset{
	"conservative": {
		Name: "conservative", BaseDecayRate: 0.01, HalfLifeDays: 90,
		WeightRecency: 0.3, WeightFrequency: 0.2,
		MinProminence: 0.1, MaxProminence: 10.0, ForgottenThreshold: 0.2,
		SweepInterval: 24 * time.Hour, ImportanceMult: 1.0,
	},
	"balanced": {
		Name: "balanced", BaseDecayRate: 0.03, HalfLifeDays: 30,
		WeightRecency: 0.5, WeightFrequency: 0.3,
		MinProminence: 0.1, MaxProminence: 10.0, ForgottenThreshold: 0.3,
		SweepInterval: 24 * time.Hour, ImportanceMult: 1.0,
	},
	"aggressive": {
		Name: "aggressive", BaseDecayRate: 0.08, HalfLifeDays: 10,
		WeightRecency: 0.6, WeightFrequency: 0.3,
		MinProminence: 0.05, MaxProminence: 10.0, ForgottenThreshold: 0.4,
		SweepInterval: 6 * time.Hour, ImportanceMult: 0.9,
	},
	"work_focused": {
		Name: "work_focused", BaseDecayRate: 0.05, HalfLifeDays: 14,
		WeightRecency: 0.55, WeightFrequency: 0.35,
		MinProminence: 0.1, MaxProminence: 10.0, ForgottenThreshold: 0.35,
		SweepInterval: 12 * time.Hour, ImportanceMult: 1.1,
	},
	"personal_focused": {
		Name: "personal_focused", BaseDecayRate: 0.02, HalfLifeDays: 60,
		WeightRecency: 0.4, WeightFrequency: 0.25,
		MinProminence: 0.1, MaxProminence: 10.0, ForgottenThreshold: 0.25,
		SweepInterval: 24 * time.Hour, ImportanceMult: 1.0,
	},
}

// Default returns the Balanced preset.
func Default() Preset { return Presets["balanced"] }

// Resolve looks up a preset by name, falling back to Balanced for an
// unknown or empty name.
func Resolve(name string) Preset {
	if p, ok := Presets[name]; ok {
		return p
	}
	return Default()
}

// Inputs is the set of per-entity fields the prominence formula needs.
type Inputs struct {
	Now              time.Time
	LastAccessed     time.Time
	AccessCount      int
	ImportanceWeight float64
}

// Compute implements the prominence formula exactly:
//
//	days      = (now - last_accessed) / 86_400
//	recency   = exp(-base_decay_rate * days)
//	frequency = log(1 + access_count) / log(10)
//	importance= min(importance_weight * importance_mult, p_max)
//	decay     = 0.5 ^ (days / half_life_days)
//	p_raw     = recency*w_recency + frequency*w_freq + importance*0.3 + decay*0.2
//	p         = clamp(p_raw, p_min, p_max)
func Compute(preset Preset, in Inputs) float64 {
	days := in.Now.Sub(in.LastAccessed).Hours() / 24
	if days < 0 {
		days = 0
	}
	recency := math.Exp(-preset.BaseDecayRate * days)
	frequency := math.Log(1+float64(in.AccessCount)) / math.Log(10)
	importance := in.ImportanceWeight * preset.ImportanceMult
	if importance > preset.MaxProminence {
		importance = preset.MaxProminence
	}
	halfLife := preset.HalfLifeDays
	if halfLife <= 0 {
		halfLife = 1
	}
	decay := math.Pow(0.5, days/halfLife)

	raw := recency*preset.WeightRecency + frequency*preset.WeightFrequency + importance*0.3 + decay*0.2
	return clamp(raw, preset.MinProminence, preset.MaxProminence)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// IsForgotten reports whether a prominence score falls below the
// preset's forgotten threshold. Forgotten entities are never deleted;
// search ranking de-prioritizes them
func IsForgotten(preset Preset, prominence float64) bool {
	return prominence < preset.ForgottenThreshold
}

// SearchBoost normalizes a prominence score to [0, 1] against the
// preset's range, applies a sigmoid centered at 0.5 with slope 3, and
// rescales to [1.0, 3.0] per the .
func SearchBoost(preset Preset, prominence float64) float64 {
	span := preset.MaxProminence - preset.MinProminence
	if span <= 0 {
		span = 1
	}
	normalized := (prominence - preset.MinProminence) / span
	normalized = clamp(normalized, 0, 1)

	sigmoid := 1 / (1 + math.Exp(-3*(normalized-0.5)))
	return 1.0 + sigmoid*2.0
}
