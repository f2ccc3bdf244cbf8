//go:build windows

// Package service provides Windows Service integration.
// Under the SCM the probe enters the service control loop; from a terminal
// it runs in the foreground.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/windows/svc"
)

const serviceName = "VitalisProbe"

// stopTimeout bounds how long a stop request waits for the final flush.
const stopTimeout = 15 * time.Second

// ProbeService implements svc.Handler around the probe's run function.
type ProbeService struct {
	logger *zap.Logger
	runFn  func(ctx context.Context) error
}

// New creates a service wrapper. runFn is called with a context that is
// cancelled when the SCM asks the service to stop.
func New(logger *zap.Logger, runFn func(ctx context.Context) error) *ProbeService {
	return &ProbeService{
		logger: logger.Named("service"),
		runFn:  runFn,
	}
}

// IsWindowsService checks if the process is running as a Windows service.
func IsWindowsService() bool {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return false
	}
	return isService
}

// Run enters the Windows service control loop when started by the SCM and
// runs the probe in the foreground otherwise.
func (s *ProbeService) Run(ctx context.Context) error {
	if !IsWindowsService() {
		return s.runFn(ctx)
	}
	return svc.Run(serviceName, &handler{ctx: ctx, s: s})
}

type handler struct {
	ctx context.Context
	s   *ProbeService
}

// Execute manages the service lifecycle: start, running, stop/shutdown.
func (h *handler) Execute(args []string, r <-chan svc.ChangeRequest, changes chan<- svc.Status) (ssec bool, errno uint32) {
	changes <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.s.runFn(ctx) }()

	changes <- svc.Status{
		State:   svc.Running,
		Accepts: svc.AcceptStop | svc.AcceptShutdown,
	}
	h.s.logger.Info("Windows service started")

	for {
		select {
		case err := <-done:
			if err != nil {
				h.s.logger.Error("Probe exited", zap.Error(err))
				return false, 1
			}
			return false, 0
		case c := <-r:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				h.s.logger.Info("Windows service stopping")
				changes <- svc.Status{State: svc.StopPending}
				cancel()
				select {
				case <-done:
				case <-time.After(stopTimeout):
					h.s.logger.Warn("Probe did not stop in time")
				}
				return false, 0
			default:
				h.s.logger.Warn("Unexpected service control request",
					zap.Uint32("cmd", uint32(c.Cmd)))
			}
		}
	}
}
