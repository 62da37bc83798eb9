// Package autoscale implements an optional HPA-style scaling policy,
// grounded on original_source/aetherless-core/src/autoscaler.rs. It is not
// invoked automatically by the supervisor; callers (the CLI, or a future
// control loop) decide when to ask for a recommendation and act on it via
// Supervisor.Activate/Shutdown.
package autoscale

import "math"

// Policy bounds the replica count autoscale will recommend.
type Policy struct {
	MinReplicas               int
	MaxReplicas               int
	TargetConcurrency         float64
	ScaleUpStabilizationSec   uint64
	ScaleDownStabilizationSec uint64
}

// DefaultPolicy mirrors the original implementation's defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinReplicas:               1,
		MaxReplicas:               10,
		TargetConcurrency:         50.0,
		ScaleUpStabilizationSec:   0,
		ScaleDownStabilizationSec: 30,
	}
}

// Autoscaler recommends a replica count for a given load, independent of
// any particular function's current state.
type Autoscaler struct {
	policy Policy
}

func New(policy Policy) *Autoscaler {
	return &Autoscaler{policy: policy}
}

// CalculateReplicas returns the desired replica count for totalLoad,
// clamped to [MinReplicas, MaxReplicas]. A non-positive load recommends
// MinReplicas (the idle state).
func (a *Autoscaler) CalculateReplicas(totalLoad float64) int {
	if totalLoad <= 0 {
		return a.policy.MinReplicas
	}

	desired := int(math.Ceil(totalLoad / a.policy.TargetConcurrency))
	return clamp(desired, a.policy.MinReplicas, a.policy.MaxReplicas)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
