package rules

import (
	"regexp"
	"strings"
	"time"
)

var fixVersionDate = regexp.MustCompile(`\d{8}`)

// ReleaseDateFromName extracts a release date embedded in a fix-version name
// such as "ICT release/20251112-v2.1.2.45". The first 8-digit run that parses
// as a valid YYYYMMDD wins; a name with no valid token yields ok=false.
func ReleaseDateFromName(name string, loc *time.Location) (time.Time, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Time{}, false
	}
	for _, tok := range fixVersionDate.FindAllString(name, -1) {
		if t, err := time.ParseInLocation("20060102", tok, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// timeLayouts is ordered from most to least specific; Jira mixes RFC3339 with
// its own zone-suffix variants depending on endpoint and server version.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseFlexible attempts the known timestamp layouts in order and returns the
// first success. Zone-less layouts are interpreted in loc.
func ParseFlexible(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dateOnly truncates t to its calendar date in loc.
func dateOnly(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// daysBetween returns b - a in whole calendar days, both taken in loc.
func daysBetween(a, b time.Time, loc *time.Location) int {
	da, db := dateOnly(a, loc), dateOnly(b, loc)
	return int(db.Sub(da).Hours() / 24)
}
