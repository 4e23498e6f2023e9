// Package obs centralizes the zap.Logger construction used by the
// service-shaped packages (pipeline, aggregator, cmd/sfup-aggregator).
// The pure arithmetic packages (csprng, n2he, quantize, sparsify) take
// no logger and emit nothing; only code with actual state transitions
// to report pulls this in.
package obs

import "go.uber.org/zap"

// NewNop returns a logger that discards everything, used as the
// default when a caller constructs a component without supplying one.
func NewNop() *zap.Logger { return zap.NewNop() }

// NewDevelopment returns a human-readable logger suitable for local
// runs of cmd/sfup-aggregator.
func NewDevelopment() *zap.Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		// zap.NewDevelopment only fails on a broken encoder config,
		// which is a build-time invariant, not a runtime condition.
		panic(err)
	}
	return l
}

// New builds the logger a long-running operator process should use:
// human-readable when verbose, structured JSON otherwise.
func New(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
