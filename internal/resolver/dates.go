package resolver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// relativeDays maps relative day words onto offsets from today.
var relativeDays = map[string]int{
	"today": 0, "heute": 0, "tonight": 0, "heute abend": 0,
	"tomorrow": 1, "morgen": 1,
	"yesterday": -1, "gestern": -1,
	"day after tomorrow": 2, "the day after tomorrow": 2, "übermorgen": 2,
	"day before yesterday": -2, "vorgestern": -2,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sonntag": time.Sunday,
	"monday": time.Monday, "montag": time.Monday,
	"tuesday": time.Tuesday, "dienstag": time.Tuesday,
	"wednesday": time.Wednesday, "mittwoch": time.Wednesday,
	"thursday": time.Thursday, "donnerstag": time.Thursday,
	"friday": time.Friday, "freitag": time.Friday,
	"saturday": time.Saturday, "samstag": time.Saturday, "sonnabend": time.Saturday,
}

var isoLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// clockRE matches a trailing time of day: "15:00", "3pm", "um 15 uhr",
// "at 7:30 am".
var clockRE = regexp.MustCompile(`(?i)\s*(?:\bat\b|\bum\b)?\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm|uhr)?\s*$`)

// parseDate resolves a date expression relative to now. dateOnly
// reports that no time of day was given, in which case the result is
// local midnight.
func parseDate(s string, now time.Time) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, fmt.Errorf("empty date")
	}
	loc := now.Location()

	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, false, nil
		}
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, true, nil
	}

	lower := strings.ToLower(s)
	day, rest, ok := relativeDay(lower, now)
	if !ok {
		return time.Time{}, false, fmt.Errorf("cannot parse date %q", s)
	}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return day, true, nil
	}

	m := clockRE.FindStringSubmatch(rest)
	if m == nil || strings.TrimSpace(rest[:len(rest)-len(m[0])]) != "" {
		return time.Time{}, false, fmt.Errorf("cannot parse time of day in %q", s)
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch strings.ToLower(m[3]) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}
	if hour > 23 || minute > 59 {
		return time.Time{}, false, fmt.Errorf("invalid time of day in %q", s)
	}
	return day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute), false, nil
}

// relativeDay reads a leading day expression (a relative word, a
// weekday or an ISO date) and returns local midnight of that day and
// the unparsed remainder.
func relativeDay(s string, now time.Time) (time.Time, string, bool) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	// Longest phrase first: "day after tomorrow" before "tomorrow".
	best := ""
	for phrase := range relativeDays {
		if hasWordPrefix(s, phrase) && len(phrase) > len(best) {
			best = phrase
		}
	}
	if best != "" {
		return today.AddDate(0, 0, relativeDays[best]), s[len(best):], true
	}

	word := s
	for _, prefix := range []string{"next ", "this ", "on ", "am ", "nächsten ", "kommenden "} {
		word = strings.TrimPrefix(word, prefix)
	}
	for name, wd := range weekdays {
		if hasWordPrefix(word, name) {
			ahead := (int(wd) - int(today.Weekday()) + 7) % 7
			return today.AddDate(0, 0, ahead), word[len(name):], true
		}
	}

	if len(s) >= 10 {
		if d, err := time.ParseInLocation("2006-01-02", s[:10], now.Location()); err == nil {
			return d, s[10:], true
		}
	}
	return time.Time{}, "", false
}

// hasWordPrefix reports whether s starts with phrase followed by the end
// of s or a non-letter.
func hasWordPrefix(s, phrase string) bool {
	if !strings.HasPrefix(s, phrase) {
		return false
	}
	rest := s[len(phrase):]
	return rest == "" || rest[0] == ' ' || rest[0] == ','
}
