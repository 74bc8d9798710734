package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Acidburn0zzz/cubemail/internal/models"
)

// timeLayout is the UNTIL/EXDATE timestamp form of the canonical rule
// string: UTC without zone designator.
const timeLayout = "20060102T150405"

// FormatRule serializes a rule into its canonical storage string:
// KEY=VALUE pairs joined by ";" with no trailing separator. EXDATE
// entries are included as comma-joined UTC timestamps.
func FormatRule(r *models.Recurrence) string {
	if r == nil || r.Freq == "" {
		return ""
	}
	parts := []string{"FREQ=" + strings.ToUpper(r.Freq)}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.ByDay != "" {
		parts = append(parts, "BYDAY="+r.ByDay)
	}
	if r.ByMonth != "" {
		parts = append(parts, "BYMONTH="+r.ByMonth)
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format(timeLayout))
	}
	if len(r.Exdates) > 0 {
		exdates := make([]string, len(r.Exdates))
		for i, ex := range r.Exdates {
			exdates[i] = ex.UTC().Format(timeLayout)
		}
		parts = append(parts, "EXDATE="+strings.Join(exdates, ","))
	}
	return strings.Join(parts, ";")
}

// FormatRRule serializes a rule for RRULE emission: like FormatRule but
// without EXDATE, which is carried as a separate iCalendar property.
func FormatRRule(r *models.Recurrence) string {
	if r == nil {
		return ""
	}
	stripped := *r
	stripped.Exdates = nil
	return FormatRule(&stripped)
}

// ParseRule decodes a canonical rule string (or an RFC 5545 RRULE value)
// into a structured rule. An empty input yields nil; unknown keys are
// ignored.
func ParseRule(s string) (*models.Recurrence, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "RRULE:")
	if s == "" {
		return nil, nil
	}
	r := &models.Recurrence{}
	for _, pair := range strings.Split(s, ";") {
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("malformed rule segment %q", pair)
		}
		switch strings.ToUpper(key) {
		case "FREQ":
			r.Freq = strings.ToUpper(value)
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid INTERVAL %q", value)
			}
			r.Interval = n
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("invalid COUNT %q", value)
			}
			r.Count = n
		case "UNTIL":
			t, err := ParseUTCTime(value)
			if err != nil {
				return nil, fmt.Errorf("invalid UNTIL %q", value)
			}
			r.Until = &t
		case "BYDAY":
			r.ByDay = strings.ToUpper(value)
		case "BYMONTH":
			r.ByMonth = value
		case "EXDATE":
			for _, part := range strings.Split(value, ",") {
				t, err := ParseUTCTime(part)
				if err != nil {
					return nil, fmt.Errorf("invalid EXDATE entry %q", part)
				}
				r.Exdates = append(r.Exdates, t)
			}
		}
	}
	if r.Freq == "" {
		return nil, fmt.Errorf("rule %q lacks FREQ", s)
	}
	return r, nil
}

// ParseUTCTime parses the timestamp forms that appear in rule strings
// and iCalendar date values: 20060102T150405 with or without a trailing
// Z, or a bare 20060102 date. All forms are interpreted as UTC.
func ParseUTCTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse(timeLayout+"Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation(timeLayout, v, time.UTC)
	default:
		return time.ParseInLocation("20060102", v, time.UTC)
	}
}
