package models

import "time"

// FreeBusy is the availability classification of an event.
type FreeBusy string

const (
	FreeBusyFree        FreeBusy = "free"
	FreeBusyBusy        FreeBusy = "busy"
	FreeBusyOutOfOffice FreeBusy = "outofoffice"
	FreeBusyTentative   FreeBusy = "tentative"
)

// freeBusyCodes maps availability names to the integer codes stored in
// the events table. "out-of-office" is accepted as an alias on decode.
var freeBusyCodes = map[FreeBusy]int{
	FreeBusyFree:        0,
	FreeBusyBusy:        1,
	FreeBusyOutOfOffice: 2,
	FreeBusyTentative:   3,
}

// Code returns the integer column value for a free/busy status.
// Unknown values map to busy.
func (fb FreeBusy) Code() int {
	if fb == "out-of-office" {
		return freeBusyCodes[FreeBusyOutOfOffice]
	}
	if c, ok := freeBusyCodes[fb]; ok {
		return c
	}
	return freeBusyCodes[FreeBusyBusy]
}

// FreeBusyFromCode converts a stored integer code back to its name.
func FreeBusyFromCode(code int) FreeBusy {
	for name, c := range freeBusyCodes {
		if c == code {
			return name
		}
	}
	return FreeBusyBusy
}

// Sensitivity levels per the iCalendar CLASS property.
type Sensitivity int

const (
	SensitivityPublic       Sensitivity = 0
	SensitivityPrivate      Sensitivity = 1
	SensitivityConfidential Sensitivity = 2
)

// AlarmUnit is the time unit of a relative alarm trigger.
type AlarmUnit byte

const (
	AlarmMinutes AlarmUnit = 'M'
	AlarmHours   AlarmUnit = 'H'
	AlarmDays    AlarmUnit = 'D'
)

// Alarm is a parsed trigger spec. Either Absolute is set, or Offset/Unit
// describe a signed offset: negative counts back from the event start,
// positive counts forward from the event end.
type Alarm struct {
	Absolute *time.Time `json:"absolute,omitempty"`
	Offset   int        `json:"offset"`
	Unit     AlarmUnit  `json:"unit"`
	Action   string     `json:"action"` // DISPLAY or EMAIL
}

// Recurrence is the structured recurrence rule of a master event.
type Recurrence struct {
	Freq     string      `json:"freq"` // DAILY, WEEKLY, MONTHLY, YEARLY
	Interval int         `json:"interval"`
	Count    int         `json:"count"`
	Until    *time.Time  `json:"until,omitempty"`
	ByDay    string      `json:"byday"`   // comma-separated weekday list, e.g. "MO,WE,FR" or "2TU"
	ByMonth  string      `json:"bymonth"` // comma-separated month numbers
	Exdates  []time.Time `json:"exdates,omitempty"`
}

// Clone returns a deep copy of the rule.
func (r *Recurrence) Clone() *Recurrence {
	if r == nil {
		return nil
	}
	c := *r
	if r.Until != nil {
		u := *r.Until
		c.Until = &u
	}
	c.Exdates = append([]time.Time(nil), r.Exdates...)
	return &c
}

// HasExdate reports whether t is recorded as an excluded instance.
func (r *Recurrence) HasExdate(t time.Time) bool {
	if r == nil {
		return false
	}
	for _, ex := range r.Exdates {
		if ex.Equal(t) {
			return true
		}
	}
	return false
}

// Attachment is an opaque blob attached to an event.
type Attachment struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mimetype"`
	Size     int64  `json:"size"`
	Data     []byte `json:"-"`
}

// Event is a single calendar entry. A recurring master carries a
// Recurrence; a materialized or virtual occurrence carries the master's
// id in RecurrenceID plus its 1-based Instance index. Optional fields
// are nil pointers so presence is a type-level question.
type Event struct {
	ID           string    `json:"id"`  // backend record id (numeric string or uid / uid-N)
	UID          string    `json:"uid"` // globally unique, stable across edits
	Calendar     string    `json:"calendar"`
	RecurrenceID string    `json:"recurrence_id,omitempty"`
	Instance     int       `json:"instance,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	AllDay       bool      `json:"allday"`

	Title       string      `json:"title"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	Categories  string      `json:"categories"` // single category name
	FreeBusy    FreeBusy    `json:"free_busy"`
	Priority    int         `json:"priority"` // 0 low, 1 normal, 2 high
	Sensitivity Sensitivity `json:"sensitivity"`
	Cancelled   bool        `json:"cancelled,omitempty"`

	Attendees   []Attendee    `json:"attendees,omitempty"`
	Alarm       *Alarm        `json:"alarm,omitempty"`
	Recurrence  *Recurrence   `json:"recurrence,omitempty"`
	Attachments []*Attachment `json:"attachments,omitempty"`

	Created time.Time `json:"created"`
	Changed time.Time `json:"changed"`
}

// IsRecurring returns true if this event has a recurrence rule.
func (e *Event) IsRecurring() bool {
	return e.Recurrence != nil && e.Recurrence.Freq != ""
}

// IsInstance returns true if this record is derived from a recurring
// master rather than being a master or standalone event.
func (e *Event) IsInstance() bool {
	return e.RecurrenceID != ""
}

// Duration returns the event length.
func (e *Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	c := *e
	c.Attendees = append([]Attendee(nil), e.Attendees...)
	c.Recurrence = e.Recurrence.Clone()
	if e.Alarm != nil {
		a := *e.Alarm
		c.Alarm = &a
	}
	c.Attachments = append([]*Attachment(nil), e.Attachments...)
	return &c
}
