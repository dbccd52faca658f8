package main

import (
	"fmt"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
)

// newLogger returns a slog.Logger writing through zap, and a flush func.
func newLogger(debug bool) (*slog.Logger, func(), error) {
	zc := zap.NewProductionConfig()
	if debug {
		zc = zap.NewDevelopmentConfig()
		zc.OutputPaths = []string{"stdout"}
	}
	z, err := zc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger := slog.New(zapslog.NewHandler(z.Core(), zapslog.WithName("lattice")))
	return logger, func() { _ = z.Sync() }, nil
}
