// Package recurrence expands recurrence rules into concrete occurrence
// start times and converts between the structured rule and its canonical
// string form ("FREQ=..;INTERVAL=..").
package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/Acidburn0zzz/cubemail/internal/models"
)

const (
	// maxOccurrences caps expansion of rules lacking COUNT and UNTIL so
	// infinite recurrence cannot consume unbounded storage or CPU.
	maxOccurrences = 999
	// horizonYears bounds unbounded rules to 20 years from construction.
	horizonYears = 20
)

var weekdays = map[string]rrule.Weekday{
	"MO": rrule.MO, "TU": rrule.TU, "WE": rrule.WE, "TH": rrule.TH,
	"FR": rrule.FR, "SA": rrule.SA, "SU": rrule.SU,
}

var frequencies = map[string]rrule.Frequency{
	"DAILY":   rrule.DAILY,
	"WEEKLY":  rrule.WEEKLY,
	"MONTHLY": rrule.MONTHLY,
	"YEARLY":  rrule.YEARLY,
}

// Expander is a stateful occurrence iterator seeded with a master
// event's start and rule. It emits start times strictly after the seed,
// skipping EXDATE entries. Restartable only by re-construction; not safe
// for concurrent use.
type Expander struct {
	rule    *models.Recurrence
	start   time.Time
	iter    func() (time.Time, bool)
	last    time.Time
	horizon time.Time
	bounded bool
	emitted int
	done    bool
}

// NewExpander builds an iterator for the given rule. A nil or malformed
// rule yields an empty sequence rather than an error; recurrence rules
// degrade to "no further occurrences".
func NewExpander(start time.Time, rule *models.Recurrence, loc *time.Location) *Expander {
	e := &Expander{
		rule:    rule,
		start:   start,
		horizon: time.Now().AddDate(horizonYears, 0, 0),
	}
	if loc == nil {
		loc = time.UTC
	}
	if rule == nil {
		e.done = true
		return e
	}

	freq, ok := frequencies[strings.ToUpper(rule.Freq)]
	if !ok {
		e.done = true
		return e
	}

	opt := rrule.ROption{
		Freq:    freq,
		Dtstart: start.In(loc),
	}
	if rule.Interval > 1 {
		opt.Interval = rule.Interval
	}
	if rule.Count > 0 {
		opt.Count = rule.Count
		e.bounded = true
	}
	if rule.Until != nil {
		opt.Until = rule.Until.In(loc)
		e.bounded = true
	}
	if rule.ByDay != "" {
		days, err := parseByDay(rule.ByDay)
		if err != nil {
			e.done = true
			return e
		}
		opt.Byweekday = days
	}
	if rule.ByMonth != "" {
		months, err := parseIntList(rule.ByMonth)
		if err != nil {
			e.done = true
			return e
		}
		opt.Bymonth = months
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		e.done = true
		return e
	}
	e.iter = r.Iterator()
	return e
}

// Next returns the next occurrence start, or false when the sequence is
// exhausted. Termination is guaranteed: COUNT/UNTIL bounds, the
// 999-occurrence / 20-year safety cap, and non-advancing instants from a
// malformed rule all end the iteration.
func (e *Expander) Next() (time.Time, bool) {
	for {
		if e.done || e.emitted >= maxOccurrences {
			e.done = true
			return time.Time{}, false
		}
		t, ok := e.iter()
		if !ok {
			e.done = true
			return time.Time{}, false
		}
		// the seed start itself is not an emitted occurrence
		if !t.After(e.start) {
			continue
		}
		if !e.bounded && t.After(e.horizon) {
			e.done = true
			return time.Time{}, false
		}
		if !e.last.IsZero() && !t.After(e.last) {
			e.done = true
			return time.Time{}, false
		}
		e.last = t
		if e.rule.HasExdate(t) {
			continue
		}
		e.emitted++
		return t, true
	}
}

// RemainingCount returns how many occurrences of the rule, the seed
// start included, fall on or after the cutoff. Used to recompute COUNT
// when a series is split.
func RemainingCount(start time.Time, rule *models.Recurrence, loc *time.Location, cutoff time.Time) int {
	n := 0
	if !start.Before(cutoff) {
		n++
	}
	ex := NewExpander(start, rule, loc)
	for {
		t, ok := ex.Next()
		if !ok {
			return n
		}
		if !t.Before(cutoff) {
			n++
		}
	}
}

func parseByDay(s string) ([]rrule.Weekday, error) {
	var days []rrule.Weekday
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if len(part) < 2 {
			return nil, fmt.Errorf("invalid BYDAY entry %q", part)
		}
		name := part[len(part)-2:]
		wd, ok := weekdays[strings.ToUpper(name)]
		if !ok {
			return nil, fmt.Errorf("invalid weekday %q", name)
		}
		if ord := part[:len(part)-2]; ord != "" {
			n, err := strconv.Atoi(ord)
			if err != nil {
				return nil, fmt.Errorf("invalid BYDAY ordinal %q", ord)
			}
			wd = wd.Nth(n)
		}
		days = append(days, wd)
	}
	return days, nil
}

func parseIntList(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
