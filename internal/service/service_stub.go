//go:build !windows

// Package service runs the probe in the foreground on platforms without a
// service control manager.
package service

import (
	"context"

	"go.uber.org/zap"
)

// ProbeService runs the probe directly.
type ProbeService struct {
	logger *zap.Logger
	runFn  func(ctx context.Context) error
}

// New creates a foreground wrapper around runFn.
func New(logger *zap.Logger, runFn func(ctx context.Context) error) *ProbeService {
	return &ProbeService{
		logger: logger.Named("service"),
		runFn:  runFn,
	}
}

// IsWindowsService always returns false on non-Windows platforms.
func IsWindowsService() bool {
	return false
}

// Run calls runFn and returns its error.
func (s *ProbeService) Run(ctx context.Context) error {
	return s.runFn(ctx)
}
