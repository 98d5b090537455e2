// Package parse turns free-form reminder text into a topic and an absolute
// minute-resolution timestamp, using deterministic pattern rules only.
package parse

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidFormat means the text is missing a date fragment, a time
	// fragment, or a topic, or names an impossible calendar date.
	ErrInvalidFormat = errors.New("invalid reminder format")
	// ErrPastDateTime means the text parsed cleanly but the resulting
	// timestamp is not in the future.
	ErrPastDateTime = errors.New("reminder time is in the past")
)

// Result is a normalized reminder request.
type Result struct {
	Topic       string
	ScheduledAt time.Time
	Phrase      string
}

var months = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may": time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sept": time.September, "sep": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

// Full names must precede abbreviations so "june" is not cut short at "jun".
const monthAlt = `january|february|march|april|may|june|july|august|september|october|november|december|sept|jan|feb|mar|apr|jun|jul|aug|sep|oct|nov|dec`

var (
	// "<month> <day>[suffix]" or "<day>[suffix] <month>", with an optional
	// leading "on"/"next" marker that is consumed along with the fragment.
	// The \b after the day keeps "june 5pm" from being read as june 5th.
	dateRe = regexp.MustCompile(`(?:\b(?:on|next)\s+)?\b(?:(` + monthAlt + `)\s+(\d{1,2})(?:st|nd|rd|th)?\b|(\d{1,2})(?:st|nd|rd|th)?\s+(` + monthAlt + `)\b)`)

	// "<hour>[:<minute>][am|pm]" with an optional "at"/"by" marker.
	timeRe = regexp.MustCompile(`(?:\b(?:at|by)\s+)?\b(\d{1,2})(?::([0-5][0-9]))?\s?(am|pm)?\b`)

	fillerRe     = regexp.MustCompile(`^(?:please\s+)?(?:remind me to|remind me|set a reminder to|set a reminder|set reminder|set)\s+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize parses raw reminder text into a topic and an absolute timestamp.
// The date and time fragments may appear anywhere in the text; whatever
// remains after removing them (and any leading filler) is the topic. The
// year is always the current one, the timestamp is truncated to the minute,
// and a timestamp at or before now is rejected with ErrPastDateTime.
//
// A time fragment without am/pm defaults to PM; hours of 13 and above are
// read as 24-hour clock and reject an explicit meridiem.
func Normalize(rawText string, now time.Time) (Result, error) {
	raw := strings.ToLower(strings.TrimSpace(rawText))
	if raw == "" {
		return Result{}, ErrInvalidFormat
	}

	dateLoc := dateRe.FindStringSubmatchIndex(raw)
	if dateLoc == nil {
		return Result{}, ErrInvalidFormat
	}
	month, day, err := extractDate(raw, dateLoc)
	if err != nil {
		return Result{}, err
	}
	remainder := raw[:dateLoc[0]] + " " + raw[dateLoc[1]:]

	timeLoc := pickTimeFragment(remainder)
	if timeLoc == nil {
		return Result{}, ErrInvalidFormat
	}
	hour, minute, err := extractTime(remainder, timeLoc)
	if err != nil {
		return Result{}, err
	}
	remainder = remainder[:timeLoc[0]] + " " + remainder[timeLoc[1]:]

	topic := cleanTopic(remainder)
	if topic == "" {
		return Result{}, ErrInvalidFormat
	}

	scheduledAt := time.Date(now.Year(), month, day, hour, minute, 0, 0, now.Location())
	// time.Date normalizes out-of-range days (feb 30 becomes march); an
	// out-of-range day must fail closed instead of rolling over.
	if scheduledAt.Day() != day || scheduledAt.Month() != month {
		return Result{}, ErrInvalidFormat
	}
	if !scheduledAt.After(now) {
		return Result{}, ErrPastDateTime
	}

	return Result{
		Topic:       topic,
		ScheduledAt: scheduledAt,
		Phrase:      strings.TrimSpace(rawText),
	}, nil
}

func extractDate(text string, loc []int) (time.Month, int, error) {
	group := func(i int) string {
		if loc[2*i] < 0 {
			return ""
		}
		return text[loc[2*i]:loc[2*i+1]]
	}

	monthName := group(1)
	dayText := group(2)
	if monthName == "" {
		dayText = group(3)
		monthName = group(4)
	}

	month, ok := months[monthName]
	if !ok {
		return 0, 0, ErrInvalidFormat
	}
	day, err := strconv.Atoi(dayText)
	if err != nil || day < 1 || day > 31 {
		return 0, 0, ErrInvalidFormat
	}
	return month, day, nil
}

// pickTimeFragment chooses the time fragment from the date-stripped text.
// The last candidate wins (times trail topics), and a candidate carrying a
// meridiem or minutes beats a bare number, so digits inside the topic are
// not mistaken for the hour.
func pickTimeFragment(text string) []int {
	var last, lastExplicit []int
	for _, loc := range timeRe.FindAllStringSubmatchIndex(text, -1) {
		explicit := loc[4] >= 0 || loc[6] >= 0
		if !explicit {
			// A bare number only qualifies as an hour on the 24h clock.
			hour, err := strconv.Atoi(text[loc[2]:loc[3]])
			if err != nil || hour > 23 {
				continue
			}
		}
		last = loc
		if explicit {
			lastExplicit = loc
		}
	}
	if lastExplicit != nil {
		return lastExplicit
	}
	return last
}

func extractTime(text string, loc []int) (int, int, error) {
	hour, err := strconv.Atoi(text[loc[2]:loc[3]])
	if err != nil || hour > 23 {
		return 0, 0, ErrInvalidFormat
	}

	minute := 0
	if loc[4] >= 0 {
		if minute, err = strconv.Atoi(text[loc[4]:loc[5]]); err != nil {
			return 0, 0, ErrInvalidFormat
		}
	}

	meridiem := ""
	if loc[6] >= 0 {
		meridiem = text[loc[6]:loc[7]]
	}

	switch meridiem {
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, ErrInvalidFormat
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, ErrInvalidFormat
		}
		if hour != 12 {
			hour += 12
		}
	default:
		// No meridiem on a 12-hour value defaults to PM.
		if hour >= 1 && hour < 12 {
			hour += 12
		}
	}
	return hour, minute, nil
}

func cleanTopic(text string) string {
	topic := whitespaceRe.ReplaceAllString(strings.TrimSpace(text), " ")
	topic = fillerRe.ReplaceAllString(topic, "")
	return strings.TrimSpace(topic)
}
