// Copyright 2026 Meridian Systems
// SPDX-License-Identifier: Apache-2.0

package pipeline

// Feature identifies an optional backend capability the planner can
// include in a processing plan.
type Feature string

const (
	FeatureDecomposition Feature = "decomposition"
	FeatureMultimodal    Feature = "multimodal"
	FeatureVerification  Feature = "verification"
)

// StatusKind discriminates the FeatureStatus sum type.
type StatusKind int

const (
	StatusEnabled StatusKind = iota
	StatusDisabled
	StatusDegraded
)

// FeatureStatus reports whether a feature is usable. Degraded features
// carry the reason they were downgraded so health reporting can surface it.
type FeatureStatus struct {
	Kind   StatusKind
	Reason string
}

// Enabled returns a healthy feature status.
func Enabled() FeatureStatus { return FeatureStatus{Kind: StatusEnabled} }

// Disabled returns a status for a feature that is configured off or has
// no backend wired.
func Disabled() FeatureStatus { return FeatureStatus{Kind: StatusDisabled} }

// Degraded returns a status for a feature that is wired but currently
// unreliable.
func Degraded(reason string) FeatureStatus {
	return FeatureStatus{Kind: StatusDegraded, Reason: reason}
}

// Usable reports whether the planner may select this feature. Degraded
// features are not selected; they are expected to recover on their own.
func (s FeatureStatus) Usable() bool { return s.Kind == StatusEnabled }

func (s FeatureStatus) String() string {
	switch s.Kind {
	case StatusEnabled:
		return "enabled"
	case StatusDisabled:
		return "disabled"
	case StatusDegraded:
		if s.Reason != "" {
			return "degraded: " + s.Reason
		}
		return "degraded"
	default:
		return "unknown"
	}
}

// Health maps each optional feature to its current status. A missing
// entry means the feature is disabled.
type Health map[Feature]FeatureStatus

// Status returns the status for a feature, defaulting to disabled.
func (h Health) Status(f Feature) FeatureStatus {
	if h == nil {
		return Disabled()
	}
	if s, ok := h[f]; ok {
		return s
	}
	return Disabled()
}
