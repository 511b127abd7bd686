// Package compiler defines the capability boundary to the external
// single-source rule compiler. The pipeline core only depends on the
// one-method Compiler interface so it stays testable against fakes.
package compiler

import (
	"context"

	"github.com/filterforge/filterforge/internal/types"
)

// Config is the workload subset handed to one compiler invocation: either a
// whole unchunked source list or the sources of a single chunk.
type Config struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Homepage    string         `json:"homepage,omitempty"`
	License     string         `json:"license,omitempty"`
	Version     string         `json:"version,omitempty"`
	Sources     []types.Source `json:"sources"`
	// Transformations apply to the whole list, passed through untouched.
	Transformations []string `json:"transformations,omitempty"`
	// Exclusions and Inclusions are passed through untouched.
	Exclusions []string `json:"exclusions,omitempty"`
	Inclusions []string `json:"inclusions,omitempty"`
}

// Compiler turns one configuration into compiled rule lines. Implementations
// may be slow and may fail; the pipeline treats them as an opaque black box.
type Compiler interface {
	Compile(ctx context.Context, cfg Config) ([]string, error)
}

// CompileFunc adapts a plain function to the Compiler interface.
type CompileFunc func(ctx context.Context, cfg Config) ([]string, error)

// Compile implements Compiler.
func (f CompileFunc) Compile(ctx context.Context, cfg Config) ([]string, error) {
	return f(ctx, cfg)
}
