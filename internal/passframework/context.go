package passframework

import (
	"polaris/internal/diag"
	"polaris/internal/mba"
	"polaris/internal/obfrand"
)

// Context carries the single-threaded, per-run shared state every pass may
// read: the RNG (spec_full.md §2 — "Cryptographic RNG"), and an optional
// logger. There is no concurrency guard because the spec forbids concurrent
// pass execution over one module outright; a Context is never shared across
// goroutines.
type Context struct {
	Rand   *obfrand.Source
	Logger Logger

	// GenerateMBA is a pass-local accessor into the package-level MBA cache;
	// kept on Context so a future caller could swap in an isolated cache
	// without touching every pass.
	GenerateMBA func(numExprs int) [15]int

	// Diagnostics, when non-nil, accumulates structured diag.Diagnostic
	// records (internal/diag) alongside Logger's free-text stream, for a
	// driver that wants the coded, locatable surface instead of log lines.
	// Nil is the common case (tests, library callers that don't care).
	Diagnostics *diag.Reporter
}

// Logger is the minimal structured-logging surface the pipeline calls;
// satisfied by commonlogAdapter (see logger.go) in production and by a
// no-op in tests.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NewContext builds a Context around the given RNG, wiring the default MBA
// generator through it.
func NewContext(rng *obfrand.Source, logger Logger) *Context {
	if logger == nil {
		logger = NopLogger{}
	}
	return &Context{
		Rand:   rng,
		Logger: logger,
		GenerateMBA: func(numExprs int) [15]int {
			return mba.Generate(numExprs, rng)
		},
	}
}

// NopLogger discards every message; used when the caller doesn't wire a
// Logger (e.g. in unit tests).
type NopLogger struct{}

func (NopLogger) Infof(string, ...interface{})  {}
func (NopLogger) Errorf(string, ...interface{}) {}
