package perception

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"convergeai/internal/types"
)

// =============================================================================
// ENTITY EXTRACTION
// =============================================================================
//
// Every extractor demands explicit phrasing: ids need their noun ("booking
// 12"), quantities need a unit suffix ("2 sofas"), so "at 2 pm" never reads
// as quantity 2. Bare numbers are left alone here; only slot-focused
// workflow extractors may interpret them, because there the pending slot
// says what a lone "3" means.

var (
	pincodeRe = regexp.MustCompile(`\b[1-9][0-9]{5}\b`)

	bookingIDRe  = regexp.MustCompile(`(?i)\b(?:booking|order)\s*(?:id|number|no\.?|#)?\s*#?\s*([0-9]{1,10})\b`)
	rateCardIDRe = regexp.MustCompile(`(?i)\b(?:rate\s*card|plan|package|option)\s*(?:id|number|no\.?|#)?\s*#?\s*([0-9]{1,10})\b`)
	categoryIDRe = regexp.MustCompile(`(?i)\bcategory\s*(?:id|number|no\.?|#)?\s*#?\s*([0-9]{1,10})\b`)
	subcatIDRe   = regexp.MustCompile(`(?i)\bsub\s*-?\s*category\s*(?:id|number|no\.?|#)?\s*#?\s*([0-9]{1,10})\b`)

	quantityRe     = regexp.MustCompile(`(?i)\b(?:qty|quantity)\s*[:=]?\s*([0-9]{1,2})\b`)
	quantityUnitRe = regexp.MustCompile(`(?i)\b([0-9]{1,2})\s*(?:x\b|units?|pcs?|pieces?|sofas?|seats?|acs?|rooms?|bathrooms?|machines?)`)
	quantityXRe    = regexp.MustCompile(`(?i)\bx\s*([0-9]{1,2})\b`)

	isoDateRe   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	slashDateRe = regexp.MustCompile(`\b(\d{1,2})/(\d{1,2})/(\d{4})\b`)
	weekdayRe   = regexp.MustCompile(`(?i)\b(?:(next|this|on|coming)\s+)?(monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)

	clockRe    = regexp.MustCompile(`(?i)\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)
	hourOnlyRe = regexp.MustCompile(`(?i)\b(\d{1,2})\s*(am|pm)\b`)

	queryRe = regexp.MustCompile(`(?i)\b(?:search(?:\s+for)?|find|looking\s+for|tell\s+me\s+about|about)\s+(.{3,80})`)
)

var weekdays = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

var numberWords = map[string]int64{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

const dateLayout = "2006-01-02"

// ExtractEntities pulls every recognizable entity out of an utterance.
// Dates resolve relative to now; values use the types the rest of the system
// coerces from (int64 ids, string date/time/pincode).
func ExtractEntities(text string, now time.Time) map[string]any {
	entities := make(map[string]any)
	lower := strings.ToLower(text)

	if m := bookingIDRe.FindStringSubmatch(text); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			entities[types.EntityBookingID] = id
		}
	}
	if m := rateCardIDRe.FindStringSubmatch(text); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			entities[types.EntityRateCardID] = id
		}
	}
	if m := subcatIDRe.FindStringSubmatch(text); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			entities[types.EntitySubcategoryID] = id
		}
	} else if m := categoryIDRe.FindStringSubmatch(text); m != nil {
		// subcategory regex would otherwise also leave its "category" suffix
		// for this one; only read category when no subcategory was written.
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			entities[types.EntityCategoryID] = id
		}
	}

	if m := pincodeRe.FindString(text); m != "" {
		entities[types.EntityPincode] = m
	}

	if date, ok := extractDate(lower, now); ok {
		entities[types.EntityDate] = date
	}
	if clock, ok := extractTime(lower); ok {
		entities[types.EntityTime] = clock
	}
	if qty, ok := extractQuantity(lower); ok {
		entities[types.EntityQuantity] = qty
	}
	if q, ok := extractQuery(text); ok {
		entities[types.EntityQuery] = q
	}

	return entities
}

// extractDate resolves absolute and relative date phrases to YYYY-MM-DD.
func extractDate(lower string, now time.Time) (string, bool) {
	if m := isoDateRe.FindString(lower); m != "" {
		if _, err := time.Parse(dateLayout, m); err == nil {
			return m, true
		}
	}
	if m := slashDateRe.FindStringSubmatch(lower); m != nil {
		// dd/mm/yyyy
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		if month >= 1 && month <= 12 && day >= 1 && day <= 31 {
			d := time.Date(year, time.Month(month), day, 0, 0, 0, 0, now.Location())
			if d.Day() == day && int(d.Month()) == month {
				return d.Format(dateLayout), true
			}
		}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	switch {
	case strings.Contains(lower, "day after tomorrow"):
		return today.AddDate(0, 0, 2).Format(dateLayout), true
	case strings.Contains(lower, "tomorrow"):
		return today.AddDate(0, 0, 1).Format(dateLayout), true
	case strings.Contains(lower, "today"):
		return today.Format(dateLayout), true
	}

	if m := weekdayRe.FindStringSubmatch(lower); m != nil {
		target := weekdays[strings.ToLower(m[2])]
		days := int(target-today.Weekday()+7) % 7
		if days == 0 {
			days = 7 // "monday" said on a Monday means next week's
		}
		return today.AddDate(0, 0, days).Format(dateLayout), true
	}

	return "", false
}

// extractTime resolves clock phrases to HH:MM (24h).
func extractTime(lower string) (string, bool) {
	if m := clockRe.FindStringSubmatch(lower); m != nil {
		hour, _ := strconv.Atoi(m[1])
		minute, _ := strconv.Atoi(m[2])
		if normalized, ok := normalizeClock(hour, minute, m[3]); ok {
			return normalized, true
		}
	}
	if m := hourOnlyRe.FindStringSubmatch(lower); m != nil {
		hour, _ := strconv.Atoi(m[1])
		if normalized, ok := normalizeClock(hour, 0, m[2]); ok {
			return normalized, true
		}
	}

	switch {
	case strings.Contains(lower, "morning"):
		return "09:00", true
	case strings.Contains(lower, "noon") || strings.Contains(lower, "midday"):
		return "12:00", true
	case strings.Contains(lower, "afternoon"):
		return "14:00", true
	case strings.Contains(lower, "evening"):
		return "18:00", true
	}
	return "", false
}

func normalizeClock(hour, minute int, meridiem string) (string, bool) {
	if minute < 0 || minute > 59 {
		return "", false
	}
	switch strings.ToLower(meridiem) {
	case "pm":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour != 12 {
			hour += 12
		}
	case "am":
		if hour < 1 || hour > 12 {
			return "", false
		}
		if hour == 12 {
			hour = 0
		}
	default:
		if hour < 0 || hour > 23 {
			return "", false
		}
	}
	return time.Date(0, 1, 1, hour, minute, 0, 0, time.UTC).Format("15:04"), true
}

// extractQuantity reads explicit quantity phrasing only.
func extractQuantity(lower string) (int64, bool) {
	for _, re := range []*regexp.Regexp{quantityRe, quantityUnitRe, quantityXRe} {
		if m := re.FindStringSubmatch(lower); m != nil {
			if n, err := strconv.ParseInt(m[1], 10, 64); err == nil && n > 0 {
				return n, true
			}
		}
	}
	for word, n := range numberWords {
		if containsPhrase(lower, word+" units") || containsPhrase(lower, word+" unit") {
			return n, true
		}
	}
	return 0, false
}

// extractQuery captures free-text search phrases ("find sofa cleaning").
func extractQuery(text string) (string, bool) {
	m := queryRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	q := strings.TrimSpace(strings.Trim(m[1], " ?.!,"))
	if len(q) < 3 {
		return "", false
	}
	return q, true
}
