package assign

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Loop drives the assignment engine on a fixed interval. A Kick from
// event handlers runs a pass immediately without waiting for the tick.
type Loop struct {
	engine   *Engine
	interval time.Duration
	kick     chan struct{}
	logger   zerolog.Logger
}

// NewLoop creates a routing loop running a pass every interval.
func NewLoop(engine *Engine, interval time.Duration, logger zerolog.Logger) *Loop {
	return &Loop{
		engine:   engine,
		interval: interval,
		kick:     make(chan struct{}, 1),
		logger:   logger,
	}
}

// Kick requests an immediate pass. Coalesces with a pending kick.
func (l *Loop) Kick() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

// Start runs the loop until the context is cancelled.
func (l *Loop) Start(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.logger.Info().Dur("interval", l.interval).Msg("routing loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("routing loop stopped")
			return
		case <-ticker.C:
			l.engine.RunPass()
		case <-l.kick:
			l.engine.RunPass()
		}
	}
}
