// Package types holds the shared data model of the compilation pipeline.
package types

import "strings"

// Source is one filter-list input, either a local file path or a remote URL.
// A Source is immutable once the workload is planned.
type Source struct {
	// Name is an optional human-readable label.
	Name string `mapstructure:"name" yaml:"name,omitempty" json:"name,omitempty"`
	// Origin is a local file path or a remote URL.
	Origin string `mapstructure:"source" yaml:"source" json:"source"`
	// Format is an optional declared list format hint (for example
	// "adblock" or "hosts"), passed through to the compiler collaborator.
	Format string `mapstructure:"type" yaml:"type,omitempty" json:"type,omitempty"`
	// ExpectedFingerprint optionally pins the content fingerprint the
	// source must match when loaded.
	ExpectedFingerprint string `mapstructure:"fingerprint" yaml:"fingerprint,omitempty" json:"-"`
	// Transformations are passed through to the compiler collaborator.
	Transformations []string `mapstructure:"transformations" yaml:"transformations,omitempty" json:"transformations,omitempty"`
}

// IsLocal reports whether the source origin is a local file path rather than
// a remote URL.
func (s Source) IsLocal() bool {
	return !strings.Contains(s.Origin, "://")
}

// Label returns the name when set, otherwise the origin.
func (s Source) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Origin
}
