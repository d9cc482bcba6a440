package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"convergeai/internal/types"
)

// fakeCatalog serves a two-category catalog from memory: AC repair under 201
// with two active rate cards, plus two cleaning services that share an alias
// for the ambiguity cases. User 7 has a default home address in a serviced
// pincode and an office address in an unserviced one.
type fakeCatalog struct {
	subs        []types.Subcategory
	cards       map[int64][]types.RateCard
	addresses   map[int64][]types.Address
	serviceable map[string]bool // "subcategoryID:pincode"
}

func newFakeCatalog() *fakeCatalog {
	price := func(s string) decimal.Decimal { return decimal.RequireFromString(s) }
	return &fakeCatalog{
		subs: []types.Subcategory{
			{ID: 101, CategoryID: 1, Name: "Home Deep Cleaning", DefaultDuration: 180, Active: true, Aliases: []string{"cleaning"}},
			{ID: 102, CategoryID: 1, Name: "Bathroom Cleaning", DefaultDuration: 90, Active: true, Aliases: []string{"cleaning"}},
			{ID: 201, CategoryID: 2, Name: "AC Repair", DefaultDuration: 60, Active: true, Aliases: []string{"ac repair", "air conditioner repair", "ac service"}},
			{ID: 202, CategoryID: 2, Name: "Geyser Repair", DefaultDuration: 45, Active: false},
		},
		cards: map[int64][]types.RateCard{
			201: {
				{ID: 2001, SubcategoryID: 201, Name: "Standard service", Price: price("1499.00"), Active: true},
				{ID: 2002, SubcategoryID: 201, Name: "Deep service with gas top-up", Price: price("1999.00"), Active: true},
				{ID: 2003, SubcategoryID: 201, Name: "Legacy plan", Price: price("999.00"), Active: false},
			},
		},
		addresses: map[int64][]types.Address{
			7: {
				{ID: 11, UserRef: 7, Label: "home", Pincode: "560076", IsDefault: true},
				{ID: 12, UserRef: 7, Label: "office", Pincode: "110011"},
			},
		},
		serviceable: map[string]bool{"201:560076": true},
	}
}

func (f *fakeCatalog) Categories(ctx context.Context) ([]types.Category, error) { return nil, nil }

func (f *fakeCatalog) Subcategories(ctx context.Context, categoryID int64) ([]types.Subcategory, error) {
	var out []types.Subcategory
	for _, s := range f.subs {
		if s.CategoryID == categoryID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeCatalog) AllSubcategories(ctx context.Context) ([]types.Subcategory, error) {
	return f.subs, nil
}

func (f *fakeCatalog) SubcategoryByID(ctx context.Context, id int64) (*types.Subcategory, error) {
	for _, s := range f.subs {
		if s.ID == id {
			s := s
			return &s, nil
		}
	}
	return nil, fmt.Errorf("subcategory %d: %w", id, sql.ErrNoRows)
}

func (f *fakeCatalog) RateCards(ctx context.Context, subcategoryID int64) ([]types.RateCard, error) {
	return f.cards[subcategoryID], nil
}

func (f *fakeCatalog) RateCardByID(ctx context.Context, id int64) (*types.RateCard, error) {
	for _, cards := range f.cards {
		for _, c := range cards {
			if c.ID == id {
				c := c
				return &c, nil
			}
		}
	}
	return nil, fmt.Errorf("rate card %d: %w", id, types.ErrRateCardNotFound)
}

func (f *fakeCatalog) SearchRateCards(ctx context.Context, q types.RateCardSearch) ([]types.RateCard, error) {
	return nil, nil
}

func (f *fakeCatalog) IsServiceable(ctx context.Context, subcategoryID int64, pincode string) (bool, error) {
	return f.serviceable[fmt.Sprintf("%d:%s", subcategoryID, pincode)], nil
}

func (f *fakeCatalog) AddressByID(ctx context.Context, id, userRef int64) (*types.Address, error) {
	for _, a := range f.addresses[userRef] {
		if a.ID == id {
			a := a
			return &a, nil
		}
	}
	return nil, fmt.Errorf("address %d: %w", id, types.ErrAddressNotFound)
}

func (f *fakeCatalog) AddressesForUser(ctx context.Context, userRef int64) ([]types.Address, error) {
	return f.addresses[userRef], nil
}

// fixedNow pins the clock so the date validator has a stable "tomorrow".
func fixedNow() time.Time {
	return time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
}

func bookingEngine() *Engine {
	return NewEngine(NewBookingMachine(newFakeCatalog(), fixedNow))
}

func advance(t *testing.T, e *Engine, ws types.WorkflowState, text string, entities map[string]any) Result {
	t.Helper()
	res, err := e.Advance(context.Background(), ws, Turn{UserRef: 7, Text: text, Entities: entities})
	if err != nil {
		t.Fatalf("Advance(%q): %v", text, err)
	}
	return res
}

// TestBookingHappyPath walks the whole machine the way a real conversation
// does: service, date, and time arrive together on the first utterance, the
// rest one prompt at a time.
func TestBookingHappyPath(t *testing.T) {
	e := bookingEngine()

	res := advance(t, e, &types.BookingDraft{}, "I want to book an AC repair for tomorrow at 2pm", map[string]any{
		types.EntitySubcategoryID: int64(201),
		types.EntityDate:          "2026-08-26",
		types.EntityTime:          "14:00",
	})
	wantFilled := []string{slotSubcategory, slotDate, slotTime}
	if len(res.Filled) != len(wantFilled) {
		t.Fatalf("filled = %v, want %v", res.Filled, wantFilled)
	}
	for i, name := range wantFilled {
		if res.Filled[i] != name {
			t.Fatalf("filled = %v, want %v", res.Filled, wantFilled)
		}
	}
	if !strings.Contains(res.Reply, "1. Standard service: ₹1499.00") {
		t.Errorf("option prompt = %q, want the numbered rate card list", res.Reply)
	}
	if strings.Contains(res.Reply, "Legacy plan") {
		t.Errorf("option prompt lists an inactive card: %q", res.Reply)
	}

	res = advance(t, e, res.State, "standard", nil)
	if got := res.State.(*types.BookingDraft).RateCardID; got != 2001 {
		t.Fatalf("rate card = %d, want 2001 from the name match", got)
	}
	if !strings.Contains(res.Reply, "Which address") {
		t.Errorf("reply = %q, want the address prompt", res.Reply)
	}

	res = advance(t, e, res.State, "my home address", nil)
	if got := res.State.(*types.BookingDraft).AddressID; got != 11 {
		t.Fatalf("address = %d, want 11 from the label match", got)
	}
	if !strings.Contains(res.Reply, "How many units") {
		t.Errorf("reply = %q, want the quantity prompt", res.Reply)
	}

	res = advance(t, e, res.State, "1", nil)
	if !strings.Contains(res.Reply, "special instructions") {
		t.Errorf("reply = %q, want the instructions prompt", res.Reply)
	}

	res = advance(t, e, res.State, "no", nil)
	if res.State.PendingSlot() != SlotConfirm {
		t.Fatalf("pending = %q, want confirmation", res.State.PendingSlot())
	}
	for _, want := range []string{
		"AC Repair",
		"Standard service",
		"₹1499.00 x 1 = ₹1499.00",
		"home (560076)",
		"2026-08-26, 14:00 to 15:00",
		"Instructions: none",
		"Shall I confirm this booking? (yes/no)",
	} {
		if !strings.Contains(res.Reply, want) {
			t.Errorf("summary missing %q:\n%s", want, res.Reply)
		}
	}

	res = advance(t, e, res.State, "yes", nil)
	if res.Disposition != ConfirmedDraft {
		t.Fatalf("disposition = %s, want confirmed", res.Disposition)
	}
	d := res.State.(*types.BookingDraft)
	if d.SubcategoryID != 201 || d.RateCardID != 2001 || d.AddressID != 11 || d.Quantity != 1 {
		t.Errorf("confirmed draft = %+v", d)
	}
	if d.PreferredDate != "2026-08-26" || d.PreferredTime != "14:00" {
		t.Errorf("schedule = %s %s", d.PreferredDate, d.PreferredTime)
	}
	if d.SpecialInstructions == nil || *d.SpecialInstructions != "" {
		t.Errorf("instructions should be set empty after decline, got %v", d.SpecialInstructions)
	}
}

func TestBookingServiceByAlias(t *testing.T) {
	e := bookingEngine()

	res := advance(t, e, &types.BookingDraft{Pending: slotSubcategory}, "i need an ac service please", nil)
	if got := res.State.(*types.BookingDraft).SubcategoryID; got != 201 {
		t.Errorf("subcategory = %d, want 201 via alias", got)
	}
}

func TestBookingAmbiguousServiceAsksToNarrow(t *testing.T) {
	e := bookingEngine()

	res := advance(t, e, &types.BookingDraft{Pending: slotSubcategory}, "i need cleaning", nil)
	if !strings.Contains(res.Reply, "more than one matching service") {
		t.Errorf("reply = %q, want the narrow-down reprompt", res.Reply)
	}
	if got := res.State.(*types.BookingDraft).FailStreak; got != 1 {
		t.Errorf("streak = %d, want 1", got)
	}
}

func TestBookingInactiveServiceRejected(t *testing.T) {
	e := bookingEngine()

	res := advance(t, e, &types.BookingDraft{}, "book a geyser repair", map[string]any{
		types.EntitySubcategoryID: int64(202),
	})
	if !strings.Contains(res.Reply, "isn't available right now") {
		t.Errorf("reply = %q, want the inactive-service reprompt", res.Reply)
	}
}

func TestBookingRateCardResolution(t *testing.T) {
	base := func() *types.BookingDraft {
		return &types.BookingDraft{SubcategoryID: 201, Pending: slotRateCard}
	}
	cases := []struct {
		name     string
		text     string
		entities map[string]any
		want     int64
	}{
		{name: "list position", text: "2", want: 2002},
		{name: "exact id", text: "2001", want: 2001},
		{name: "hash prefix", text: "#2002", want: 2002},
		{name: "entity position", entities: map[string]any{types.EntityRateCardID: int64(2)}, want: 2002},
		{name: "name fragment", text: "gas top-up", want: 2002},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := bookingEngine()
			res := advance(t, e, base(), tc.text, tc.entities)
			if got := res.State.(*types.BookingDraft).RateCardID; got != tc.want {
				t.Errorf("rate card = %d, want %d", got, tc.want)
			}
		})
	}

	t.Run("out of range", func(t *testing.T) {
		e := bookingEngine()
		res := advance(t, e, base(), "9", nil)
		if !strings.Contains(res.Reply, "pick one of the listed choices") {
			t.Errorf("reply = %q, want the bad-option reprompt", res.Reply)
		}
	})
	t.Run("inactive id", func(t *testing.T) {
		e := bookingEngine()
		res := advance(t, e, base(), "2003", nil)
		if got := res.State.(*types.BookingDraft).RateCardID; got != 0 {
			t.Errorf("inactive card selected: %d", got)
		}
	})
}

func TestBookingUnserviceableAddressReprompts(t *testing.T) {
	e := bookingEngine()

	ws := &types.BookingDraft{SubcategoryID: 201, RateCardID: 2001, Pending: slotAddress}
	res := advance(t, e, ws, "office", nil)
	if !strings.Contains(res.Reply, "This pincode is not yet serviced; please pick a different address") {
		t.Errorf("reply = %q, want the serviceability rejection", res.Reply)
	}
	if got := res.State.(*types.BookingDraft).AddressID; got != 0 {
		t.Errorf("address filled despite rejection: %d", got)
	}

	res = advance(t, e, res.State, "home", nil)
	if got := res.State.(*types.BookingDraft).AddressID; got != 11 {
		t.Errorf("address = %d after correction, want 11", got)
	}
}

func TestBookingAddressDefaultFallback(t *testing.T) {
	e := bookingEngine()

	ws := &types.BookingDraft{SubcategoryID: 201, Pending: slotAddress}
	res := advance(t, e, ws, "my usual place", nil)
	if got := res.State.(*types.BookingDraft).AddressID; got != 11 {
		t.Errorf("address = %d, want the default 11", got)
	}
}

func TestBookingDateValidation(t *testing.T) {
	e := bookingEngine()

	res := advance(t, e, &types.BookingDraft{}, "today", map[string]any{types.EntityDate: "2026-08-25"})
	if !strings.Contains(res.Reply, "The date must be at least tomorrow") {
		t.Errorf("reply = %q, want the too-soon rejection", res.Reply)
	}
	d := res.State.(*types.BookingDraft)
	if d.FailedSlot != slotDate || d.FailStreak != 1 {
		t.Errorf("strike bookkeeping = %s/%d", d.FailedSlot, d.FailStreak)
	}

	res = advance(t, e, res.State, "tomorrow", map[string]any{types.EntityDate: "2026-08-26"})
	if got := res.State.(*types.BookingDraft).PreferredDate; got != "2026-08-26" {
		t.Errorf("date = %q, want exactly tomorrow accepted", got)
	}

	res = advance(t, e, &types.BookingDraft{}, "garbled", map[string]any{types.EntityDate: "next tuesday"})
	if !strings.Contains(res.Reply, "couldn't read that date") {
		t.Errorf("reply = %q, want the unparseable-date reprompt", res.Reply)
	}
}

func TestBookingTimeWindow(t *testing.T) {
	cases := []struct {
		ts string
		ok bool
	}{
		{"07:59", false},
		{"08:00", true},
		{"14:00", true},
		{"20:00", true},
		{"20:01", false},
	}
	for _, tc := range cases {
		e := bookingEngine()
		res := advance(t, e, &types.BookingDraft{}, tc.ts, map[string]any{types.EntityTime: tc.ts})
		got := res.State.(*types.BookingDraft).PreferredTime
		if tc.ok && got != tc.ts {
			t.Errorf("%s: time = %q, want accepted", tc.ts, got)
		}
		if !tc.ok {
			if got != "" {
				t.Errorf("%s: accepted outside the window", tc.ts)
			}
			if !strings.Contains(res.Reply, "between 08:00 and 20:00") {
				t.Errorf("%s: reply = %q", tc.ts, res.Reply)
			}
		}
	}
}

func TestBookingQuantityBounds(t *testing.T) {
	for _, bad := range []int{0, 11} {
		e := bookingEngine()
		res := advance(t, e, &types.BookingDraft{}, "lots", map[string]any{types.EntityQuantity: bad})
		if !strings.Contains(res.Reply, "between 1 and 10") {
			t.Errorf("quantity %d: reply = %q", bad, res.Reply)
		}
	}

	cases := []struct {
		text string
		want int
	}{
		{"10", 10},
		{"ten", 10},
		{"skip", 1},
		{"just one", 1},
		{"the default", 1},
	}
	for _, tc := range cases {
		e := bookingEngine()
		res := advance(t, e, &types.BookingDraft{Pending: slotQuantity}, tc.text, nil)
		if got := res.State.(*types.BookingDraft).Quantity; got != tc.want {
			t.Errorf("%q: quantity = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestBookingInstructionsKeepText(t *testing.T) {
	e := bookingEngine()

	ws := &types.BookingDraft{Pending: slotInstructions}
	res := advance(t, e, ws, "Ring the bell twice, the doorbell camera is broken", nil)
	d := res.State.(*types.BookingDraft)
	if d.SpecialInstructions == nil || !strings.Contains(*d.SpecialInstructions, "Ring the bell twice") {
		t.Errorf("instructions = %v", d.SpecialInstructions)
	}
}

func TestScheduleWindow(t *testing.T) {
	cases := []struct {
		start    string
		duration int
		wantFrom string
		wantTo   string
	}{
		{"14:00", 60, "14:00", "15:00"},
		{"19:00", 45, "19:00", "19:45"},
		{"19:30", 60, "19:30", "20:00"},
		{"23:50", 30, "23:50", "20:00"},
		{"2pm", 60, "2pm", "2pm"},
	}
	for _, tc := range cases {
		from, to := ScheduleWindow(tc.start, tc.duration)
		if from != tc.wantFrom || to != tc.wantTo {
			t.Errorf("ScheduleWindow(%q, %d) = (%q, %q), want (%q, %q)",
				tc.start, tc.duration, from, to, tc.wantFrom, tc.wantTo)
		}
	}
}

func TestBareNumber(t *testing.T) {
	cases := []struct {
		text string
		want int64
		ok   bool
	}{
		{"1", 1, true},
		{" #1042. ", 1042, true},
		{"2!", 2, true},
		{"two", 0, false},
		{"12345678901", 0, false},
		{"-3", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := bareNumber(tc.text)
		if got != tc.want || ok != tc.ok {
			t.Errorf("bareNumber(%q) = (%d, %v), want (%d, %v)", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}
