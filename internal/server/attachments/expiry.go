package attachments

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/goodsign/monday"
)

// locale pairs a monday locale with the zone abbreviations accepted alongside it.
type locale struct {
	monday monday.Locale
	zones  map[string]int
}

// commonZones are abbreviations understood in every locale, in seconds east of UTC.
var commonZones = map[string]int{
	"Z": 0, "UT": 0, "UTC": 0, "GMT": 0,
	"WET": 0, "WEST": 3600, "BST": 3600,
	"CET": 3600, "CEST": 7200,
	"EET": 7200, "EEST": 10800,
	"EST": -5 * 3600, "EDT": -4 * 3600,
	"CST": -6 * 3600, "CDT": -5 * 3600,
	"MST": -7 * 3600, "MDT": -6 * 3600,
	"PST": -8 * 3600, "PDT": -7 * 3600,
}

var english = locale{monday: monday.LocaleEnUS, zones: commonZones}

var german = locale{
	monday: monday.LocaleDeDE,
	zones: mergeZones(commonZones, map[string]int{
		"WEZ": 0, "WESZ": 3600,
		"MEZ": 3600, "MESZ": 7200,
		"OEZ": 7200, "OESZ": 10800,
	}),
}

func mergeZones(a, b map[string]int) map[string]int {
	m := make(map[string]int, len(a)+len(b))
	for k, v := range a {
		m[k] = v
	}
	for k, v := range b {
		m[k] = v
	}
	return m
}

// expiryFormat is one accepted shape of the expiry text. Groups are named
// so every format shares the same extraction code.
type expiryFormat struct {
	name string
	re   *regexp.Regexp
}

const (
	dayMonthYear = `(?P<day>\d{1,2})\s+(?P<month>\S+)\s+(?P<year>\d{4}|\d{2})\s+`
	weekdayComma = `(?P<weekday>\S+?),\s*`
	zoneSuffix   = `\s+(?P<zone>\S+)$`
)

// Same order as the mail date formats they mirror: without weekday first,
// seconds before minutes.
var expiryFormats = []expiryFormat{
	{"dd MMM yy HH:mm:ss Z", regexp.MustCompile(`^` + dayMonthYear + `(?P<hour>\d{1,2}):(?P<minute>\d{2}):(?P<second>\d{2})` + zoneSuffix)},
	{"dd MMM yy HH:mm Z", regexp.MustCompile(`^` + dayMonthYear + `(?P<hour>\d{1,2}):(?P<minute>\d{2})` + zoneSuffix)},
	{"EEE, dd MMM yy HH:mm:ss Z", regexp.MustCompile(`^` + weekdayComma + dayMonthYear + `(?P<hour>\d{1,2}):(?P<minute>\d{2}):(?P<second>\d{2})` + zoneSuffix)},
	{"EEE, dd MMM yy HH:mm Z", regexp.MustCompile(`^` + weekdayComma + dayMonthYear + `(?P<hour>\d{1,2}):(?P<minute>\d{2})` + zoneSuffix)},
}

var (
	numericZone = regexp.MustCompile(`^([+-])(\d{2}):?(\d{2})$`)
	gmtZone     = regexp.MustCompile(`^(?:GMT|UTC|UT)([+-])(\d{1,2})(?::?(\d{2}))?$`)
)

// Month and weekday spellings, abbreviated before full.
var (
	monthLayouts   = []string{"Jan", "January"}
	weekdayLayouts = []string{"Mon", "Monday"}
)

// ExpiryParser turns the expiry text of an upload into an instant. It
// accepts mail style dates ("Tue, 05 Mar 24 14:30:00 +0100") with English
// or German month and weekday names, then any extra Go layouts.
type ExpiryParser struct {
	locales []locale
	layouts []string
	now     func() time.Time
}

func NewExpiryParser(extraLayouts []string) *ExpiryParser {
	return &ExpiryParser{
		locales: []locale{english, german},
		layouts: extraLayouts,
		now:     time.Now,
	}
}

// Parse returns the instant denoted by text. Formats are tried in order,
// each with every locale; the first success wins.
func (p *ExpiryParser) Parse(text string) (time.Time, error) {
	if text == "" {
		return time.Time{}, &ExpiryParseError{Absent: true}
	}

	s := strings.TrimSpace(text)
	for _, f := range expiryFormats {
		m := f.re.FindStringSubmatch(s)
		if m == nil {
			continue
		}
		fields := make(map[string]string, len(m))
		for i, n := range f.re.SubexpNames() {
			if n != "" {
				fields[n] = m[i]
			}
		}
		for _, l := range p.locales {
			if t, ok := p.build(fields, l); ok {
				return t, nil
			}
		}
	}

	for _, layout := range p.layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, &ExpiryParseError{Text: text}
}

// build rewrites the matched fields into a canonical value (four digit
// year, numeric zone) and hands the names to monday for the locale.
func (p *ExpiryParser) build(f map[string]string, l locale) (time.Time, bool) {
	offset, ok := parseZone(f["zone"], l)
	if !ok {
		return time.Time{}, false
	}

	month := normalizeName(f["month"])
	clock := f["hour"] + ":" + f["minute"]
	clockLayout := "15:04"
	if sec, ok := f["second"]; ok {
		clock += ":" + sec
		clockLayout += ":05"
	}
	tail := fmt.Sprintf(" %s %04d %s %s", month, p.expandYear(f["year"]), clock, formatOffset(offset))

	weekdays := []string{""}
	wd, hasWeekday := f["weekday"]
	if hasWeekday {
		wd = normalizeName(wd)
		weekdays = weekdayLayouts
	}

	for _, ml := range monthLayouts {
		for _, wl := range weekdays {
			layout := "2 " + ml + " 2006 " + clockLayout + " -0700"
			value := f["day"] + tail
			if hasWeekday {
				layout = wl + ", " + layout
				value = wd + ", " + value
			}

			t, err := monday.ParseInLocation(layout, value, time.UTC, l.monday)
			if err != nil {
				continue
			}
			// monday leaves names it does not know to the stdlib, which
			// would read English months under any locale.
			if !strings.EqualFold(monday.Format(t, ml, l.monday), month) {
				continue
			}
			return t, true
		}
	}
	return time.Time{}, false
}

// expandYear maps two digit years into the window [now-80y, now+20y).
func (p *ExpiryParser) expandYear(s string) int {
	y, _ := strconv.Atoi(s)
	if len(s) != 2 {
		return y
	}

	current := p.now().Year()
	y += current / 100 * 100
	switch {
	case y < current-80:
		y += 100
	case y >= current+20:
		y -= 100
	}
	return y
}

// normalizeName title-cases a month or weekday token and drops an
// abbreviation dot, the spelling monday's tables use.
func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSuffix(s, "."))
	if s == "sept" {
		s = "sep"
	}
	r, n := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}

func parseZone(s string, l locale) (int, bool) {
	if m := numericZone.FindStringSubmatch(s); m != nil {
		return signedOffset(m[1], m[2], m[3])
	}
	if m := gmtZone.FindStringSubmatch(strings.ToUpper(s)); m != nil {
		return signedOffset(m[1], m[2], m[3])
	}
	off, ok := l.zones[strings.ToUpper(s)]
	return off, ok
}

func signedOffset(sign, hh, mm string) (int, bool) {
	h, _ := strconv.Atoi(hh)
	m := 0
	if mm != "" {
		m, _ = strconv.Atoi(mm)
	}
	if h > 23 || m > 59 {
		return 0, false
	}
	off := h*3600 + m*60
	if sign == "-" {
		off = -off
	}
	return off, true
}

func formatOffset(off int) string {
	sign := '+'
	if off < 0 {
		sign = '-'
		off = -off
	}
	return fmt.Sprintf("%c%02d%02d", sign, off/3600, off%3600/60)
}
