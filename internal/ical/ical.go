// Package ical converts between the internal event model and the
// iCalendar interchange format.
package ical

import (
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/Acidburn0zzz/cubemail/internal/alarm"
	"github.com/Acidburn0zzz/cubemail/internal/models"
	"github.com/Acidburn0zzz/cubemail/internal/recurrence"
)

const (
	prodID = "-//Cubemail//NONSGML Calendar//EN"

	dateLayout    = "20060102"
	utcLayout     = "20060102T150405Z"
	floatLayout   = "20060102T150405"
	allDaySeconds = 3600
)

// Import parses an iCalendar document into events. Times without an
// explicit zone are interpreted in loc. Events missing a UID get a
// generated one so every imported record is addressable.
func Import(data string, loc *time.Location) ([]*models.Event, error) {
	cal, err := ics.ParseCalendar(strings.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}

	var events []*models.Event
	for _, ve := range cal.Events() {
		ev, err := importEvent(ve, loc)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func importEvent(ve *ics.VEvent, loc *time.Location) (*models.Event, error) {
	ev := &models.Event{FreeBusy: models.FreeBusyBusy}

	if p := ve.GetProperty(ics.ComponentPropertyUniqueId); p != nil {
		ev.UID = p.Value
	}
	if ev.UID == "" {
		ev.UID = models.NewUID()
	}

	start, allDay, err := importTime(ve.GetProperty(ics.ComponentPropertyDtStart), loc)
	if err != nil {
		return nil, fmt.Errorf("event %s: %w", ev.UID, err)
	}
	ev.Start = start
	ev.AllDay = allDay

	if p := ve.GetProperty(ics.ComponentPropertyDtEnd); p != nil {
		end, _, err := importTime(p, loc)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.UID, err)
		}
		// DTEND of a date-valued event is exclusive
		if allDay {
			end = end.AddDate(0, 0, -1)
		}
		ev.End = end
	} else if p := ve.GetProperty(ics.ComponentProperty("DURATION")); p != nil {
		if d, err := parseDuration(p.Value); err == nil {
			ev.End = ev.Start.Add(d)
		}
	}
	if !ev.End.After(ev.Start) {
		// zero-length and inverted events get a placeholder end
		ev.End = ev.Start.Add(allDaySeconds * time.Second)
	}

	ev.Title = propValue(ve, "SUMMARY")
	ev.Description = propValue(ve, "DESCRIPTION")
	ev.Location = propValue(ve, "LOCATION")
	ev.Categories = propValue(ve, "CATEGORIES")

	switch strings.ToUpper(propValue(ve, "STATUS")) {
	case "CANCELLED":
		ev.Cancelled = true
	case "TENTATIVE":
		ev.FreeBusy = models.FreeBusyTentative
	}
	if strings.EqualFold(propValue(ve, "TRANSP"), "TRANSPARENT") {
		ev.FreeBusy = models.FreeBusyFree
	}
	switch strings.ToUpper(propValue(ve, "X-MICROSOFT-CDO-BUSYSTATUS")) {
	case "FREE":
		ev.FreeBusy = models.FreeBusyFree
	case "TENTATIVE":
		ev.FreeBusy = models.FreeBusyTentative
	case "OOF":
		ev.FreeBusy = models.FreeBusyOutOfOffice
	case "BUSY":
		ev.FreeBusy = models.FreeBusyBusy
	}

	ev.Priority = importPriority(propValue(ve, "PRIORITY"))

	switch strings.ToUpper(propValue(ve, "CLASS")) {
	case "PRIVATE":
		ev.Sensitivity = models.SensitivityPrivate
	case "CONFIDENTIAL":
		ev.Sensitivity = models.SensitivityConfidential
	}

	if p := ve.GetProperty(ics.ComponentProperty("RECURRENCE-ID")); p != nil {
		ev.RecurrenceID = p.Value
	}

	if p := ve.GetProperty(ics.ComponentPropertyRrule); p != nil {
		rec, err := recurrence.ParseRule(p.Value)
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", ev.UID, err)
		}
		ev.Recurrence = rec
	}
	for _, p := range ve.GetProperties(ics.ComponentPropertyExdate) {
		if ev.Recurrence == nil {
			break
		}
		for _, v := range strings.Split(p.Value, ",") {
			t, err := recurrence.ParseUTCTime(strings.TrimSpace(v))
			if err != nil {
				continue
			}
			ev.Recurrence.Exdates = append(ev.Recurrence.Exdates, t)
		}
	}

	for _, p := range ve.Properties {
		if strings.EqualFold(p.IANAToken, "ATTENDEE") || strings.EqualFold(p.IANAToken, "ORGANIZER") {
			ev.Attendees = append(ev.Attendees, importAttendee(p))
		}
	}

	ev.Alarm = importAlarm(ve)

	for _, p := range ve.GetProperties(ics.ComponentProperty("ATTACH")) {
		if att := importAttachment(p); att != nil {
			ev.Attachments = append(ev.Attachments, att)
		}
	}

	if p := ve.GetProperty(ics.ComponentProperty("CREATED")); p != nil {
		if t, err := recurrence.ParseUTCTime(p.Value); err == nil {
			ev.Created = t
		}
	}
	if p := ve.GetProperty(ics.ComponentProperty("LAST-MODIFIED")); p != nil {
		if t, err := recurrence.ParseUTCTime(p.Value); err == nil {
			ev.Changed = t
		}
	}
	return ev, nil
}

// importTime decodes a DTSTART/DTEND property honoring VALUE=DATE and
// TZID parameters.
func importTime(p *ics.IANAProperty, loc *time.Location) (time.Time, bool, error) {
	if p == nil {
		return time.Time{}, false, fmt.Errorf("missing date-time property")
	}
	value := strings.TrimSpace(p.Value)

	isDate := len(value) == len(dateLayout)
	for _, v := range p.ICalParameters["VALUE"] {
		if strings.EqualFold(v, "DATE") {
			isDate = true
		}
	}
	if isDate {
		t, err := time.ParseInLocation(dateLayout, value, loc)
		return t, true, err
	}

	if tzids := p.ICalParameters["TZID"]; len(tzids) > 0 {
		if l, err := time.LoadLocation(tzids[0]); err == nil {
			loc = l
		}
	}
	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse(utcLayout, value)
		return t, false, err
	}
	t, err := time.ParseInLocation(floatLayout, value, loc)
	return t, false, err
}

func importPriority(value string) int {
	n, err := strconv.Atoi(value)
	if err != nil || n == 0 {
		return 1
	}
	switch {
	case n <= 4:
		return 2
	case n == 5:
		return 1
	default:
		return 0
	}
}

func importAttendee(p ics.IANAProperty) models.Attendee {
	att := models.Attendee{
		Email: strings.TrimPrefix(strings.ToLower(p.Value), "mailto:"),
	}
	if cn := p.ICalParameters["CN"]; len(cn) > 0 {
		att.Name = strings.Trim(cn[0], `"`)
	}
	if role := p.ICalParameters["ROLE"]; len(role) > 0 {
		att.Role = strings.ToUpper(role[0])
	}
	if ps := p.ICalParameters["PARTSTAT"]; len(ps) > 0 {
		att.Status = strings.ToUpper(ps[0])
	}
	if strings.EqualFold(p.IANAToken, "ORGANIZER") {
		att.Role = "ORGANIZER"
	}
	if att.Role == "" {
		att.Role = "REQ-PARTICIPANT"
	}
	if att.Status == "" {
		att.Status = "NEEDS-ACTION"
	}
	return att
}

var durationRe = regexp.MustCompile(`^(-?)P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

func parseDuration(s string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(s)))
	if m == nil {
		return 0, fmt.Errorf("malformed duration %q", s)
	}
	var d time.Duration
	if m[2] != "" {
		n, _ := strconv.Atoi(m[2])
		d += time.Duration(n) * 24 * time.Hour
	}
	if m[3] != "" {
		n, _ := strconv.Atoi(m[3])
		d += time.Duration(n) * time.Hour
	}
	if m[4] != "" {
		n, _ := strconv.Atoi(m[4])
		d += time.Duration(n) * time.Minute
	}
	if m[5] != "" {
		n, _ := strconv.Atoi(m[5])
		d += time.Duration(n) * time.Second
	}
	if m[1] == "-" {
		d = -d
	}
	return d, nil
}

// importAlarm picks the first supported VALARM of the component.
func importAlarm(ve *ics.VEvent) *models.Alarm {
	for _, va := range ve.Alarms() {
		action := "DISPLAY"
		if p := va.GetProperty(ics.ComponentProperty("ACTION")); p != nil {
			action = strings.ToUpper(p.Value)
		}
		if action != alarm.ActionDisplay && action != alarm.ActionEmail {
			continue
		}
		p := va.GetProperty(ics.ComponentProperty("TRIGGER"))
		if p == nil {
			continue
		}
		if isDateTimeTrigger(p) {
			t, err := recurrence.ParseUTCTime(p.Value)
			if err != nil {
				continue
			}
			return &models.Alarm{Absolute: &t, Action: action}
		}
		a, err := triggerToAlarm(p, action)
		if err != nil {
			continue
		}
		return a
	}
	return nil
}

func isDateTimeTrigger(p *ics.IANAProperty) bool {
	for _, v := range p.ICalParameters["VALUE"] {
		if strings.EqualFold(v, "DATE-TIME") {
			return true
		}
	}
	return !strings.Contains(strings.ToUpper(p.Value), "P")
}

// triggerToAlarm collapses an ISO 8601 trigger duration to the coarsest
// unit that represents it exactly.
func triggerToAlarm(p *ics.IANAProperty, action string) (*models.Alarm, error) {
	d, err := parseDuration(p.Value)
	if err != nil {
		return nil, err
	}
	fromEnd := false
	for _, v := range p.ICalParameters["RELATED"] {
		if strings.EqualFold(v, "END") {
			fromEnd = true
		}
	}

	minutes := int(d / time.Minute)
	if !fromEnd && minutes > 0 {
		minutes = -minutes // triggers after start are not representable
	}
	a := &models.Alarm{Offset: minutes, Unit: models.AlarmMinutes, Action: action}
	switch {
	case minutes%(24*60) == 0 && minutes != 0:
		a.Offset = minutes / (24 * 60)
		a.Unit = models.AlarmDays
	case minutes%60 == 0 && minutes != 0:
		a.Offset = minutes / 60
		a.Unit = models.AlarmHours
	}
	return a, nil
}

// importAttachment decodes an inline binary ATTACH. Link attachments
// carry no payload the store could serve, so they are skipped. The id
// is derived from the content so re-imports stay stable.
func importAttachment(p *ics.IANAProperty) *models.Attachment {
	enc := p.ICalParameters["ENCODING"]
	if len(enc) == 0 || !strings.EqualFold(enc[0], "BASE64") {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(p.Value)
	if err != nil {
		return nil
	}
	att := &models.Attachment{
		ID:   fmt.Sprintf("%x", md5.Sum(data)),
		Size: int64(len(data)),
		Data: data,
	}
	if v := p.ICalParameters["FMTTYPE"]; len(v) > 0 {
		att.MimeType = v[0]
	}
	if v := p.ICalParameters["X-LABEL"]; len(v) > 0 {
		att.Name = strings.Trim(v[0], `"`)
	}
	return att
}

func propValue(ve *ics.VEvent, name string) string {
	if p := ve.GetProperty(ics.ComponentProperty(name)); p != nil {
		return p.Value
	}
	return ""
}

// Export renders events as an iCalendar document. method becomes the
// calendar METHOD property when non-empty (e.g. REQUEST, CANCEL).
func Export(events []*models.Event, method string) string {
	cal := ics.NewCalendar()
	cal.SetProductId(prodID)
	if method != "" {
		cal.SetMethod(ics.Method(method))
	}
	for _, ev := range events {
		exportEvent(cal, ev)
	}
	return cal.Serialize()
}

func exportEvent(cal *ics.Calendar, ev *models.Event) {
	ve := cal.AddEvent(ev.UID)
	ve.SetDtStampTime(time.Now().UTC())
	if !ev.Created.IsZero() {
		ve.SetProperty(ics.ComponentProperty("CREATED"), ev.Created.UTC().Format(utcLayout))
	}
	if !ev.Changed.IsZero() {
		ve.SetProperty(ics.ComponentProperty("LAST-MODIFIED"), ev.Changed.UTC().Format(utcLayout))
	}

	dateParam := &ics.KeyValues{Key: "VALUE", Value: []string{"DATE"}}
	if ev.AllDay {
		ve.SetProperty(ics.ComponentPropertyDtStart, ev.Start.Format(dateLayout), dateParam)
		// exclusive end date
		ve.SetProperty(ics.ComponentPropertyDtEnd, ev.End.AddDate(0, 0, 1).Format(dateLayout), dateParam)
	} else {
		ve.SetProperty(ics.ComponentPropertyDtStart, ev.Start.UTC().Format(utcLayout))
		ve.SetProperty(ics.ComponentPropertyDtEnd, ev.End.UTC().Format(utcLayout))
	}

	ve.SetProperty(ics.ComponentProperty("SUMMARY"), ev.Title)
	if ev.Description != "" {
		ve.SetProperty(ics.ComponentProperty("DESCRIPTION"), ev.Description)
	}
	if ev.Location != "" {
		ve.SetProperty(ics.ComponentProperty("LOCATION"), ev.Location)
	}
	if ev.Categories != "" {
		ve.SetProperty(ics.ComponentProperty("CATEGORIES"), ev.Categories)
	}

	switch ev.Sensitivity {
	case models.SensitivityPrivate:
		ve.SetProperty(ics.ComponentProperty("CLASS"), "PRIVATE")
	case models.SensitivityConfidential:
		ve.SetProperty(ics.ComponentProperty("CLASS"), "CONFIDENTIAL")
	}

	switch ev.Priority {
	case 2:
		ve.SetProperty(ics.ComponentProperty("PRIORITY"), "1")
	case 0:
		ve.SetProperty(ics.ComponentProperty("PRIORITY"), "9")
	}

	if ev.FreeBusy == models.FreeBusyFree {
		ve.SetProperty(ics.ComponentProperty("TRANSP"), "TRANSPARENT")
	} else {
		ve.SetProperty(ics.ComponentProperty("TRANSP"), "OPAQUE")
	}
	if ev.Cancelled {
		ve.SetProperty(ics.ComponentProperty("STATUS"), "CANCELLED")
	} else if ev.FreeBusy == models.FreeBusyTentative {
		ve.SetProperty(ics.ComponentProperty("STATUS"), "TENTATIVE")
	}

	if ev.RecurrenceID != "" {
		ve.SetProperty(ics.ComponentProperty("RECURRENCE-ID"), ev.RecurrenceID)
	}
	if ev.IsRecurring() {
		ve.SetProperty(ics.ComponentPropertyRrule, recurrence.FormatRRule(ev.Recurrence))
		for _, ex := range ev.Recurrence.Exdates {
			ve.AddProperty(ics.ComponentPropertyExdate, ex.UTC().Format(utcLayout))
		}
	}

	for _, att := range ev.Attendees {
		exportAttendee(ve, att)
	}
	for _, att := range ev.Attachments {
		exportAttachment(ve, att)
	}
	if ev.Alarm != nil {
		exportAlarm(ve, ev.Alarm)
	}
}

func exportAttachment(ve *ics.VEvent, att *models.Attachment) {
	if len(att.Data) == 0 {
		return
	}
	params := []ics.PropertyParameter{
		&ics.KeyValues{Key: "VALUE", Value: []string{"BINARY"}},
		&ics.KeyValues{Key: "ENCODING", Value: []string{"BASE64"}},
	}
	if att.MimeType != "" {
		params = append(params, &ics.KeyValues{Key: "FMTTYPE", Value: []string{att.MimeType}})
	}
	if att.Name != "" {
		params = append(params, &ics.KeyValues{Key: "X-LABEL", Value: []string{att.Name}})
	}
	ve.AddProperty(ics.ComponentProperty("ATTACH"),
		base64.StdEncoding.EncodeToString(att.Data), params...)
}

func exportAttendee(ve *ics.VEvent, att models.Attendee) {
	var params []ics.PropertyParameter
	if att.Name != "" {
		params = append(params, &ics.KeyValues{Key: "CN", Value: []string{att.Name}})
	}
	if att.Role == "ORGANIZER" {
		ve.SetProperty(ics.ComponentProperty("ORGANIZER"), "mailto:"+att.Email, params...)
		return
	}
	if att.Role != "" {
		params = append(params, &ics.KeyValues{Key: "ROLE", Value: []string{att.Role}})
	}
	if att.Status != "" {
		params = append(params, &ics.KeyValues{Key: "PARTSTAT", Value: []string{att.Status}})
	}
	ve.AddProperty(ics.ComponentProperty("ATTENDEE"), "mailto:"+att.Email, params...)
}

func exportAlarm(ve *ics.VEvent, a *models.Alarm) {
	va := ve.AddAlarm()
	action := a.Action
	if action == "" {
		action = alarm.ActionDisplay
	}
	va.SetProperty(ics.ComponentProperty("ACTION"), action)

	if a.Absolute != nil {
		va.SetProperty(ics.ComponentProperty("TRIGGER"),
			a.Absolute.UTC().Format(utcLayout),
			&ics.KeyValues{Key: "VALUE", Value: []string{"DATE-TIME"}})
		return
	}

	var params []ics.PropertyParameter
	offset := a.Offset
	sign := ""
	if offset < 0 {
		sign = "-"
		offset = -offset
	} else {
		params = append(params, &ics.KeyValues{Key: "RELATED", Value: []string{"END"}})
	}
	var dur string
	switch a.Unit {
	case models.AlarmDays:
		dur = fmt.Sprintf("P%dD", offset)
	case models.AlarmHours:
		dur = fmt.Sprintf("PT%dH", offset)
	default:
		dur = fmt.Sprintf("PT%dM", offset)
	}
	va.SetProperty(ics.ComponentProperty("TRIGGER"), sign+dur, params...)
}
