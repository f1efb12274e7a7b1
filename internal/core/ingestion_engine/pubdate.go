package ingestion_engine

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/araddon/dateparse"
)

var romeLoc = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Rome")
	if err != nil {
		return time.UTC
	}
	return loc
}()

var italianMonths = map[string]time.Month{
	"gennaio": time.January, "febbraio": time.February, "marzo": time.March, "aprile": time.April,
	"maggio": time.May, "giugno": time.June, "luglio": time.July, "agosto": time.August,
	"settembre": time.September, "ottobre": time.October, "novembre": time.November, "dicembre": time.December,
}

var (
	italianLongDate    = regexp.MustCompile(`(?i)\b(\d{1,2})°?\s+(gennaio|febbraio|marzo|aprile|maggio|giugno|luglio|agosto|settembre|ottobre|novembre|dicembre)\s+(\d{4})\b`)
	italianNumericDate = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{4})\b`)
)

// ResolveEpoch picks the kb_epoch of a document: the feed's publication
// date, else a date written in the title, else now.
func ResolveEpoch(published, title string, now time.Time) int64 {
	if t, ok := ParsePublished(published, now); ok {
		return t.Unix()
	}
	if t, ok := findItalianDate(title); ok && plausible(t, now) {
		return t.Unix()
	}
	return now.Unix()
}

// ParsePublished parses a feed date string. Machine formats (RFC 1123, ISO
// 8601 and the like) go through dateparse; Italian written dates are tried
// after.
func ParsePublished(s string, now time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, ok := findItalianDate(s); ok && plausible(t, now) {
		return t, true
	}
	t, err := dateparse.ParseIn(s, romeLoc)
	if err != nil || !plausible(t, now) {
		return time.Time{}, false
	}
	return t, true
}

func findItalianDate(s string) (time.Time, bool) {
	if m := italianLongDate.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		year, _ := strconv.Atoi(m[3])
		return validDate(year, italianMonths[strings.ToLower(m[2])], day)
	}
	if m := italianNumericDate.FindStringSubmatch(s); m != nil {
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		return validDate(year, time.Month(month), day)
	}
	return time.Time{}, false
}

func validDate(year int, month time.Month, day int) (time.Time, bool) {
	if month < time.January || month > time.December || day < 1 {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, romeLoc)
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}

// plausible rejects typos: nothing before 1900 or more than a year ahead.
func plausible(t, now time.Time) bool {
	return t.Year() >= 1900 && t.Before(now.AddDate(1, 0, 0))
}
