// Package types provides common type definitions used throughout coffeefilter.
// This package contains shared types to avoid circular dependencies between packages.
package types

import "time"

// Artifact is the compiled output of one source resource. Artifacts are
// immutable once constructed: a stale artifact is replaced wholesale, never
// updated in place.
type Artifact struct {
	// SourceKey identifies the source resource (e.g. "/WEB-INF/coffee/app.coffee")
	SourceKey string
	// CompiledText is the compiler output served to clients
	CompiledText string
	// SourceLastModified is the source timestamp the artifact was compiled
	// against. The zero value means the timestamp is unknowable.
	SourceLastModified time.Time
	// CompiledAt is informational only
	CompiledAt time.Time
}

// NewArtifact builds an artifact stamped with the current time.
func NewArtifact(key, compiled string, sourceLastModified time.Time) *Artifact {
	return &Artifact{
		SourceKey:          key,
		CompiledText:       compiled,
		SourceLastModified: sourceLastModified,
		CompiledAt:         time.Now(),
	}
}

// IsStale reports whether the source has been modified after the artifact
// was compiled. A zero timestamp on both sides is never stale.
func (a *Artifact) IsStale(current time.Time) bool {
	return current.After(a.SourceLastModified)
}

// Size returns the number of bytes of compiled output.
func (a *Artifact) Size() int {
	return len(a.CompiledText)
}
