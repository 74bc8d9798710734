// Package propagate implements the save-mode dispatch of edits and
// deletions across recurring series. It works purely in terms of the
// store primitives, so both backends share one behavior.
package propagate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Acidburn0zzz/cubemail/internal/models"
	"github.com/Acidburn0zzz/cubemail/internal/recurrence"
	"github.com/Acidburn0zzz/cubemail/internal/store"
)

// allDayPlaceholder pads events whose end does not lie after their
// start, which date-only input produces routinely.
const allDayPlaceholder = time.Hour

// Propagator turns user-level event operations into store mutations.
type Propagator struct {
	store store.Store
}

func New(s store.Store) *Propagator {
	return &Propagator{store: s}
}

// NewEvent validates and inserts a fresh event.
func (p *Propagator) NewEvent(ctx context.Context, sess *store.Session, ev *models.Event) (string, error) {
	normalize(ev)
	if ev.UID == "" {
		ev.UID = models.NewUID()
	}
	id, err := p.store.InsertEvent(ctx, sess, ev)
	if err != nil {
		return "", fmt.Errorf("failed to save event: %w", err)
	}
	return id, nil
}

// EditEvent applies an edit under the given save mode. The event id
// addresses the edited record, which may be a virtual or materialized
// occurrence of a recurring master.
func (p *Propagator) EditEvent(ctx context.Context, sess *store.Session, ev *models.Event, mode store.SaveMode) error {
	normalize(ev)

	old, err := p.store.GetEvent(ctx, sess, ev.ID)
	if err != nil {
		return fmt.Errorf("failed to load event %s: %w", ev.ID, err)
	}
	master := old
	if old.IsInstance() {
		if master, err = p.store.GetEvent(ctx, sess, old.RecurrenceID); err != nil {
			return fmt.Errorf("failed to load series master: %w", err)
		}
	}
	if !master.IsRecurring() && !old.IsInstance() {
		mode = store.SaveModeAll
	}

	switch mode {
	case store.SaveModeNew:
		return p.editAsNew(ctx, sess, ev)
	case store.SaveModeCurrent:
		return p.editCurrent(ctx, sess, ev, old, master)
	case store.SaveModeFuture:
		return p.editFuture(ctx, sess, ev, old, master)
	default:
		return p.editAll(ctx, sess, ev, old, master)
	}
}

// editAsNew detaches the edit into an independent event. The copy gets
// a fresh identity and no series membership.
func (p *Propagator) editAsNew(ctx context.Context, sess *store.Session, ev *models.Event) error {
	detached := ev.Clone()
	detached.ID = ""
	detached.UID = models.NewUID()
	detached.RecurrenceID = ""
	detached.Instance = 0
	detached.Recurrence = nil
	if _, err := p.store.InsertEvent(ctx, sess, detached); err != nil {
		return fmt.Errorf("failed to save copy: %w", err)
	}
	return nil
}

// editCurrent excludes the edited occurrence from the series and stores
// the edit as a standalone one-off event.
func (p *Propagator) editCurrent(ctx context.Context, sess *store.Session, ev, old, master *models.Event) error {
	updated := master.Clone()
	if updated.Recurrence != nil && !updated.Recurrence.HasExdate(old.Start) {
		updated.Recurrence.Exdates = append(updated.Recurrence.Exdates, old.Start)
	}
	if err := p.store.UpdateEvent(ctx, sess, updated); err != nil {
		return fmt.Errorf("failed to exclude occurrence: %w", err)
	}
	if old.IsInstance() {
		if err := p.store.DeleteInstance(ctx, sess, old); err != nil {
			return fmt.Errorf("failed to drop occurrence record: %w", err)
		}
	}

	detached := ev.Clone()
	detached.ID = ""
	detached.UID = models.NewUID()
	detached.RecurrenceID = ""
	detached.Instance = 0
	detached.Recurrence = nil
	detached.Calendar = master.Calendar
	if _, err := p.store.InsertEvent(ctx, sess, detached); err != nil {
		return fmt.Errorf("failed to save occurrence: %w", err)
	}
	return nil
}

// editFuture splits the series at the edited occurrence: the master is
// truncated to end before it and a new series carries the edit forward.
func (p *Propagator) editFuture(ctx context.Context, sess *store.Session, ev, old, master *models.Event) error {
	// splitting at the first occurrence leaves nothing behind, and a
	// master without a rule has nothing to split
	if master.Recurrence == nil || old.Start.Equal(master.Start) {
		return p.editAll(ctx, sess, ev, old, master)
	}

	series := ev.Clone()
	series.ID = ""
	series.UID = models.NewUID()
	series.RecurrenceID = ""
	series.Instance = 0
	series.Calendar = master.Calendar
	if series.Recurrence == nil {
		series.Recurrence = master.Recurrence.Clone()
	}
	adjustSplitRule(series.Recurrence, master, old.Start, sess.Loc())

	truncated := master.Clone()
	until := old.Start.Add(-24 * time.Hour)
	truncated.Recurrence.Until = &until
	truncated.Recurrence.Count = 0

	if err := p.store.UpdateEvent(ctx, sess, truncated); err != nil {
		return fmt.Errorf("failed to truncate series: %w", err)
	}
	if err := p.store.DeleteFutureInstances(ctx, sess, master, old.Start); err != nil {
		return fmt.Errorf("failed to drop future occurrences: %w", err)
	}
	if _, err := p.store.InsertEvent(ctx, sess, series); err != nil {
		return fmt.Errorf("failed to save new series: %w", err)
	}
	return nil
}

// adjustSplitRule rewrites the recurrence of the forward half of a
// split. A remaining-count replaces the original count, and rule parts
// that merely restate the new start date are dropped.
func adjustSplitRule(rec *models.Recurrence, master *models.Event, splitAt time.Time, loc *time.Location) {
	if rec == nil {
		return
	}
	if rec.Count > 0 {
		rec.Count = recurrence.RemainingCount(master.Start, master.Recurrence, loc, splitAt)
	}
	stripStartMarkers(rec, splitAt)
}

// stripStartMarkers drops rule parts that merely restate the series
// start. They stop holding once the start moves.
func stripStartMarkers(rec *models.Recurrence, start time.Time) {
	if rec == nil {
		return
	}
	if len(rec.ByDay) == 2 && !strings.Contains(rec.ByDay, ",") {
		rec.ByDay = ""
	}
	if rec.ByMonth == strconv.Itoa(int(start.Month())) {
		rec.ByMonth = ""
	}
}

// editAll applies the edit to the whole series. Date or duration
// changes made on one occurrence shift every occurrence by the same
// amount, other changes replace the master's fields directly.
func (p *Propagator) editAll(ctx context.Context, sess *store.Session, ev, old, master *models.Event) error {
	updated := ev.Clone()
	updated.ID = master.ID
	updated.UID = master.UID
	updated.RecurrenceID = ""
	updated.Instance = 0
	updated.Calendar = master.Calendar
	if updated.Recurrence == nil {
		updated.Recurrence = master.Recurrence.Clone()
	}

	if old.IsInstance() {
		updated.Start = master.Start
		updated.End = master.End

		shift := ev.Start.Sub(old.Start)
		duration := ev.Duration()
		changed := shift != 0 || duration != old.Duration()
		sameDate := ev.Start.Format("20060102") == old.Start.Format("20060102")
		sameDuration := duration == old.Duration()
		if changed && (sameDate || sameDuration) {
			updated.Start = master.Start.Add(shift)
			updated.End = updated.Start.Add(duration)
			stripStartMarkers(updated.Recurrence, updated.Start)
		}
	}

	if err := p.store.UpdateEvent(ctx, sess, updated); err != nil {
		return fmt.Errorf("failed to update series: %w", err)
	}
	return nil
}

// RemoveEvent deletes an event, an occurrence, or the tail of a series
// depending on the save mode. force requests unrecoverable removal.
func (p *Propagator) RemoveEvent(ctx context.Context, sess *store.Session, ev *models.Event, force bool, mode store.SaveMode) error {
	old, err := p.store.GetEvent(ctx, sess, ev.ID)
	if err != nil {
		return fmt.Errorf("failed to load event %s: %w", ev.ID, err)
	}
	master := old
	if old.IsInstance() {
		if master, err = p.store.GetEvent(ctx, sess, old.RecurrenceID); err != nil {
			return fmt.Errorf("failed to load series master: %w", err)
		}
	}
	if !master.IsRecurring() && !old.IsInstance() {
		mode = store.SaveModeAll
	}

	switch mode {
	case store.SaveModeCurrent:
		updated := master.Clone()
		if updated.Recurrence != nil && !updated.Recurrence.HasExdate(old.Start) {
			updated.Recurrence.Exdates = append(updated.Recurrence.Exdates, old.Start)
		}
		if err := p.store.UpdateEvent(ctx, sess, updated); err != nil {
			return fmt.Errorf("failed to exclude occurrence: %w", err)
		}
		if old.IsInstance() {
			if err := p.store.DeleteInstance(ctx, sess, old); err != nil {
				return fmt.Errorf("failed to drop occurrence record: %w", err)
			}
		}
		return nil

	case store.SaveModeFuture:
		if master.Recurrence == nil || old.Start.Equal(master.Start) {
			break // removing from the first occurrence removes everything
		}
		truncated := master.Clone()
		until := old.Start.Add(-time.Second)
		truncated.Recurrence.Until = &until
		truncated.Recurrence.Count = 0
		if err := p.store.UpdateEvent(ctx, sess, truncated); err != nil {
			return fmt.Errorf("failed to truncate series: %w", err)
		}
		if err := p.store.DeleteFutureInstances(ctx, sess, master, old.Start); err != nil {
			return fmt.Errorf("failed to drop future occurrences: %w", err)
		}
		return nil
	}

	if err := p.store.DeleteEvent(ctx, sess, master, force); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

// MoveEvent changes the start and end of an event, dispatching through
// the same save-mode rules as a full edit.
func (p *Propagator) MoveEvent(ctx context.Context, sess *store.Session, id string, start, end time.Time, mode store.SaveMode) error {
	ev, err := p.store.GetEvent(ctx, sess, id)
	if err != nil {
		return fmt.Errorf("failed to load event %s: %w", id, err)
	}
	ev.Start = start
	ev.End = end
	return p.EditEvent(ctx, sess, ev, mode)
}

// ResizeEvent changes only the end of an event.
func (p *Propagator) ResizeEvent(ctx context.Context, sess *store.Session, id string, end time.Time, mode store.SaveMode) error {
	ev, err := p.store.GetEvent(ctx, sess, id)
	if err != nil {
		return fmt.Errorf("failed to load event %s: %w", id, err)
	}
	ev.End = end
	return p.EditEvent(ctx, sess, ev, mode)
}

// RestoreEvent undoes a recoverable deletion where the backend keeps
// deleted records around.
func (p *Propagator) RestoreEvent(ctx context.Context, sess *store.Session, ev *models.Event) error {
	if !p.store.Capabilities().Undelete {
		return store.ErrNotSupported
	}
	return p.store.RestoreEvent(ctx, sess, ev)
}

// normalize enforces the basic time sanity rules shared by all writes.
func normalize(ev *models.Event) {
	if !ev.End.After(ev.Start) {
		ev.End = ev.Start.Add(allDayPlaceholder)
	}
}
