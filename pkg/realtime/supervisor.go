package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jgirmay/slidegenie-realtime/pkg/logging"
	"github.com/jgirmay/slidegenie-realtime/pkg/metrics"
)

// SupervisorConf configures the lifecycle sweep.
type SupervisorConf struct {
	Interval    time.Duration
	IdleTimeout time.Duration
	Clock       func() time.Time
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
}

func (c *SupervisorConf) norm() {
	if c.Interval <= 0 {
		c.Interval = 60 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	c.Logger = logging.OrGlobal(c.Logger).Named("supervisor")
}

// SweepReport is the outcome of one sweep.
type SweepReport struct {
	IdleEvicted map[string]int `json:"idle_evicted"`
	Cleanup     CleanupReport  `json:"cleanup"`
}

// Supervisor runs the recurring sweep that evicts idle connections and
// stale collaboration state.
type Supervisor struct {
	svc  *Service
	conf SupervisorConf

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSupervisor(svc *Service, conf SupervisorConf) *Supervisor {
	conf.norm()
	return &Supervisor{svc: svc, conf: conf, done: make(chan struct{})}
}

// Start begins sweeping every Interval until ctx ends or Stop is called.
func (s *Supervisor) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.conf.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.conf.Logger.Error("sweep failed", zap.Error(err))
				}
			}
		}
	}()
	s.conf.Logger.Info("supervisor started", zap.Duration("interval", s.conf.Interval))
}

// Stop ends the loop and waits for an in-flight sweep.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	s.wg.Wait()
}

// Sweep runs one iteration. A panic inside is recovered and returned as an
// error so the loop keeps going.
func (s *Supervisor) Sweep(ctx context.Context) (report SweepReport, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
		s.conf.Metrics.SweepObserved(time.Since(start).Seconds(), err != nil)
	}()

	cutoff := s.conf.Clock().Add(-s.conf.IdleTimeout)
	report.IdleEvicted = s.svc.EvictIdle(cutoff)
	report.Cleanup, err = s.svc.CleanupStaleData(ctx)

	s.conf.Logger.Info("sweep complete",
		zap.Any("idle_evicted", report.IdleEvicted),
		zap.Int("expired_locks", report.Cleanup.ExpiredLocks),
		zap.Int("stale_presence", report.Cleanup.StalePresence),
		zap.Int("trimmed_edits", report.Cleanup.TrimmedEdits))
	return report, err
}
