package call

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hivechat/callbridge/pkg/logger"
)

// Sweeper transitions unanswered rings to missed once the ring window
// elapses. The lifecycle operations themselves never perform this
// transition; the sweeper is the timer collaborator that owns it.
type Sweeper struct {
	config   Config
	store    Store
	notifier Notifier
	log      *logger.Logger
	cron     *cron.Cron
}

// NewSweeper creates a ring-timeout sweeper
func NewSweeper(config Config, store Store, notifier Notifier, log *logger.Logger) *Sweeper {
	if config.RingWindow <= 0 {
		config.RingWindow = 90 * time.Second
	}
	return &Sweeper{
		config:   config,
		store:    store,
		notifier: notifier,
		log:      log.WithComponent("sweeper"),
		cron:     cron.New(),
	}
}

// Start schedules the sweep and begins running it
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@every 15s", s.sweep); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// sweep marks every over-age ringing session missed and notifies anyone
// still attached to its signaling room
func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	now := time.Now()
	missed, err := s.store.MarkMissedBefore(ctx, now.Add(-s.config.RingWindow), now)
	if err != nil {
		s.log.Error("missed-call sweep failed", "error", err)
		return
	}
	for _, sess := range missed {
		transitionsTotal.WithLabelValues(string(StatusMissed)).Inc()
		s.log.Info("call missed", "call_id", sess.CallID, "room_id", sess.RoomID)
		s.notifier.NotifyCallMissed(sess.CallID)
	}
}
