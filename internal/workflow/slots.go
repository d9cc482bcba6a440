package workflow

import (
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"convergeai/internal/types"
)

// Helpers shared by the slot machines.

// bareNumber reads an utterance that is nothing but a number, optionally
// prefixed with '#'. Used when the pending prompt asked for an id, an option
// number, or a quantity.
func bareNumber(text string) (int64, bool) {
	t := strings.TrimSpace(text)
	t = strings.TrimPrefix(t, "#")
	t = strings.TrimRight(t, ".!")
	if t == "" || len(t) > 10 {
		return 0, false
	}
	n, err := strconv.ParseInt(t, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// wordNumbers resolves spelled-out answers to quantity prompts.
var wordNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
}

// declines are the answers that skip an optional slot.
var declines = map[string]struct{}{
	"no": {}, "none": {}, "nope": {}, "nah": {}, "skip": {},
	"nothing": {}, "n/a": {}, "na": {}, "no thanks": {},
}

func isDecline(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!,")
	t = strings.Join(strings.Fields(t), " ")
	_, ok := declines[t]
	return ok
}

// isMissingRow distinguishes a lookup that found nothing from a store that is
// unavailable. Not-found failures become slot validation reprompts; anything
// else propagates as a turn error.
func isMissingRow(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || types.KindOf(err) == types.KindUserInput
}

func activeCards(cards []types.RateCard) []types.RateCard {
	out := make([]types.RateCard, 0, len(cards))
	for _, c := range cards {
		if c.Active {
			out = append(out, c)
		}
	}
	return out
}

func formatMoney(d decimal.Decimal) string {
	return "₹" + d.StringFixed(2)
}

// ScheduleWindow computes the visit window [start, start + duration] clamped
// to the end of the working day. An unparseable start collapses the window.
func ScheduleWindow(start string, durationMinutes int) (string, string) {
	t, err := time.Parse("15:04", start)
	if err != nil {
		return start, start
	}
	end := t.Add(time.Duration(durationMinutes) * time.Minute)
	endStr := end.Format("15:04")
	if end.Day() != t.Day() || endStr > dayEnd {
		endStr = dayEnd
	}
	return start, endStr
}
