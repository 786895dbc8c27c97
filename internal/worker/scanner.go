package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"collectbook/internal/log"
)

// Scanner runs ScanCurrentPeriod on a fixed interval.
type Scanner struct {
	worker   *AnomalyWorker
	interval time.Duration
	logger   *log.Logger

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewScanner(worker *AnomalyWorker, interval time.Duration) *Scanner {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Scanner{
		worker:   worker,
		interval: interval,
		logger:   worker.logger,
	}
}

// Start begins the scan loop. Returns an error if already running.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scanner is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	s.logger.InfoContext(ctx, "Anomaly scanner started", "interval", s.interval)
	return nil
}

// Stop signals the loop and waits for the scan in progress to finish.
func (s *Scanner) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		s.logger.InfoContext(ctx, "Anomaly scanner stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Anomaly scanner stop timed out")
		return ctx.Err()
	}
}

func (s *Scanner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scanner) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Scan immediately on startup
	s.scan(ctx)

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scan(ctx)
		}
	}
}

func (s *Scanner) scan(ctx context.Context) {
	reports, err := s.worker.ScanCurrentPeriod(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Anomaly scan failed",
			log.FieldOperation, log.OpScan,
			log.FieldError, err)
		return
	}
	s.logger.DebugContext(ctx, "Anomaly scan completed", "anomalies", len(reports))
}
