// Package scheduler polls the event store for due alarms and hands
// them to a notifier.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/Acidburn0zzz/cubemail/internal/models"
	"github.com/Acidburn0zzz/cubemail/internal/store"
)

// Notifier delivers one fired alarm to the user.
type Notifier interface {
	Notify(ctx context.Context, sess *store.Session, ev *models.Event) error
}

// LogNotifier writes fired alarms to the process log. Deployments plug
// in mail or push delivery instead.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, sess *store.Session, ev *models.Event) error {
	log.Printf("Alarm for %s: %s at %s", sess.Username, ev.Title, ev.Start.Format(time.RFC3339))
	return nil
}

// SessionSource yields the sessions whose alarms the scheduler watches.
type SessionSource func(ctx context.Context) ([]*store.Session, error)

type Scheduler struct {
	store         store.Store
	notifier      Notifier
	sessions      SessionSource
	checkInterval time.Duration
	notifyCh      chan struct{}
}

func New(s store.Store, notifier Notifier, sessions SessionSource, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		store:         s,
		notifier:      notifier,
		sessions:      sessions,
		checkInterval: interval,
		notifyCh:      make(chan struct{}, 1),
	}
}

// Notify triggers an immediate check. Non-blocking if a check is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
		// Channel already has a pending notification, skip
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	log.Println("Scheduler started")
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	// Wait a bit for migrations to complete before first check
	select {
	case <-ctx.Done():
		return
	case <-time.After(2 * time.Second):
	}

	s.check(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("Scheduler stopped")
			return
		case <-ticker.C:
			s.check(ctx)
		case <-s.notifyCh:
			log.Println("Scheduler triggered by notification")
			s.check(ctx)
		}
	}
}

func (s *Scheduler) check(ctx context.Context) {
	sessions, err := s.sessions(ctx)
	if err != nil {
		log.Printf("Failed to list alarm sessions: %v", err)
		return
	}

	now := time.Now()
	for _, sess := range sessions {
		pending, err := s.store.PendingAlarms(ctx, sess, now, nil)
		if err != nil {
			log.Printf("Failed to get pending alarms for %s: %v", sess.Username, err)
			continue
		}
		for _, ev := range pending {
			if err := s.notifier.Notify(ctx, sess, ev); err != nil {
				log.Printf("Failed to deliver alarm for event %s: %v", ev.ID, err)
			}
		}
	}
}
