package main

import (
	"github.com/sfup/sfup/internal/obs"
	"go.uber.org/zap"
)

// newLogger builds a zap logger matching verbose: human-readable
// development output, or structured JSON for production.
func newLogger() (*zap.Logger, error) {
	return obs.New(verbose)
}
