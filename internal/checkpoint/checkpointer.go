package checkpoint

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"arbwatch/internal/window"
)

// DefaultInterval between periodic checkpoints. It doubles as the restart
// grace period: a checkpoint older than this is stale on recovery.
const DefaultInterval = 5 * time.Minute

// Sources supplies the live state to persist. Both callbacks must be safe to
// call from the checkpointer goroutine.
type Sources struct {
	Windows   func() []*window.Window
	RateLimit func() RateLimit
}

// Checkpointer periodically persists open-window state. Write failures are
// logged and skipped; checkpointing is best-effort and never fatal.
type Checkpointer struct {
	path     string
	interval time.Duration
	sources  Sources
	logger   zerolog.Logger
}

// New constructs a checkpointer writing to path every interval.
func New(path string, interval time.Duration, sources Sources, logger zerolog.Logger) *Checkpointer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Checkpointer{
		path:     path,
		interval: interval,
		sources:  sources,
		logger:   logger.With().Str("component", "checkpointer").Logger(),
	}
}

// Interval returns the configured checkpoint period.
func (c *Checkpointer) Interval() time.Duration { return c.interval }

// Run blocks, writing a checkpoint every interval until ctx is cancelled.
func (c *Checkpointer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Write(); err != nil {
				c.logger.Error().Err(err).Msg("checkpoint write failed")
			}
		}
	}
}

// Write persists the current state once.
func (c *Checkpointer) Write() error {
	st := State{
		LastUpdated:   time.Now().UTC(),
		RateLimit:     c.sources.RateLimit(),
		ActiveWindows: c.sources.Windows(),
	}
	if err := Save(c.path, st); err != nil {
		return err
	}
	c.logger.Debug().Int("open_windows", len(st.ActiveWindows)).Msg("checkpoint written")
	return nil
}
