package models

import "strings"

// Attendee is one entry of an event's ordered attendee list.
type Attendee struct {
	Name   string `json:"name"`
	Email  string `json:"email"`
	Role   string `json:"role"`   // ORGANIZER, REQ-PARTICIPANT, OPT-PARTICIPANT, CHAIR
	Status string `json:"status"` // ACCEPTED, DECLINED, TENTATIVE, NEEDS-ACTION
}

// FormatAttendees serializes attendees into the flat storage block, one
// line per attendee:
//
//	NAME="..";STATUS=..;ROLE=..;EMAIL=..
//
// Double quotes inside the name are backslash-escaped. Entries without
// both name and email are skipped.
func FormatAttendees(attendees []Attendee) string {
	var b strings.Builder
	for _, att := range attendees {
		if att.Name == "" && att.Email == "" {
			continue
		}
		b.WriteString(`NAME="`)
		b.WriteString(strings.ReplaceAll(att.Name, `"`, `\"`))
		b.WriteString(`";STATUS=`)
		b.WriteString(att.Status)
		b.WriteString(`;ROLE=`)
		b.WriteString(att.Role)
		b.WriteString(`;EMAIL=`)
		b.WriteString(att.Email)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// ParseAttendees decodes a serialized attendee block produced by
// FormatAttendees.
func ParseAttendees(s string) []Attendee {
	if s == "" {
		return nil
	}
	var attendees []Attendee
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var att Attendee
		for _, prop := range splitQuoted(line, ';') {
			key, value, ok := strings.Cut(prop, "=")
			if !ok {
				continue
			}
			value = strings.Trim(value, `"`)
			value = strings.ReplaceAll(value, `\"`, `"`)
			switch strings.ToUpper(key) {
			case "NAME":
				att.Name = value
			case "EMAIL":
				att.Email = value
			case "ROLE":
				att.Role = value
			case "STATUS":
				att.Status = value
			}
		}
		attendees = append(attendees, att)
	}
	return attendees
}

// splitQuoted splits s on sep, ignoring separators inside double-quoted
// sections and honoring backslash escapes.
func splitQuoted(s string, sep byte) []string {
	var parts []string
	var cur strings.Builder
	quoted := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			cur.WriteByte(c)
			i++
			cur.WriteByte(s[i])
		case c == '"':
			quoted = !quoted
			cur.WriteByte(c)
		case c == sep && !quoted:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())
	return parts
}
