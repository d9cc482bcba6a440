package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"convergeai/internal/types"
)

// Booking slot names, in machine order. They are persisted inside drafts, so
// renaming one invalidates in-flight workflows.
const (
	slotSubcategory  = "subcategory_id"
	slotRateCard     = "rate_card_id"
	slotAddress      = "address_id"
	slotQuantity     = "quantity"
	slotDate         = "preferred_date"
	slotTime         = "preferred_time"
	slotInstructions = "special_instructions"
)

const (
	dayStart    = "08:00"
	dayEnd      = "20:00"
	maxQuantity = 10
	dateLayout  = "2006-01-02"
)

// BookingMachine gathers what a booking commit needs: the service, a priced
// option, a serviceable address, quantity, and a visit window. Catalog
// lookups double as validators; the machine never writes anything.
type BookingMachine struct {
	catalog types.CatalogRepo
	now     func() time.Time
	slots   []Slot
}

// NewBookingMachine wires the booking machine against the catalog. A nil now
// uses the wall clock.
func NewBookingMachine(catalog types.CatalogRepo, now func() time.Time) *BookingMachine {
	if now == nil {
		now = time.Now
	}
	m := &BookingMachine{catalog: catalog, now: now}
	m.slots = []Slot{
		{
			Name:    slotSubcategory,
			Filled:  func(ws types.WorkflowState) bool { return ws.(*types.BookingDraft).SubcategoryID != 0 },
			Extract: m.extractSubcategory,
			Prompt: func(ctx context.Context, ws types.WorkflowState) string {
				return "Which service do you need? You can say things like \"AC repair\" or \"sofa cleaning\"."
			},
		},
		{
			Name:    slotRateCard,
			Filled:  func(ws types.WorkflowState) bool { return ws.(*types.BookingDraft).RateCardID != 0 },
			Extract: m.extractRateCard,
			Prompt:  m.promptRateCard,
		},
		{
			Name:    slotAddress,
			Filled:  func(ws types.WorkflowState) bool { return ws.(*types.BookingDraft).AddressID != 0 },
			Extract: m.extractAddress,
			Prompt: func(ctx context.Context, ws types.WorkflowState) string {
				return "Which address should the professional visit? You can say \"home\", \"work\", or give an address id."
			},
		},
		{
			Name:    slotQuantity,
			Filled:  func(ws types.WorkflowState) bool { return ws.(*types.BookingDraft).Quantity != 0 },
			Extract: m.extractQuantity,
			Prompt: func(ctx context.Context, ws types.WorkflowState) string {
				return "How many units do you need? (default 1)"
			},
		},
		{
			Name:    slotDate,
			Filled:  func(ws types.WorkflowState) bool { return ws.(*types.BookingDraft).PreferredDate != "" },
			Extract: m.extractDate,
			Prompt: func(ctx context.Context, ws types.WorkflowState) string {
				return "What date works for you? You can say \"tomorrow\" or give a date like 2026-09-01."
			},
		},
		{
			Name:    slotTime,
			Filled:  func(ws types.WorkflowState) bool { return ws.(*types.BookingDraft).PreferredTime != "" },
			Extract: m.extractTime,
			Prompt: func(ctx context.Context, ws types.WorkflowState) string {
				return "What time should we arrive? We operate between 08:00 and 20:00."
			},
		},
		{
			Name:    slotInstructions,
			Filled:  func(ws types.WorkflowState) bool { return ws.(*types.BookingDraft).SpecialInstructions != nil },
			Extract: m.extractInstructions,
			Prompt: func(ctx context.Context, ws types.WorkflowState) string {
				return "Any special instructions for the professional? Reply \"no\" to skip."
			},
		},
	}
	return m
}

func (m *BookingMachine) Kind() types.WorkflowKind { return types.WorkflowBooking }
func (m *BookingMachine) Slots() []Slot            { return m.slots }

// Summary renders the confirmation card: service, option math, address,
// window, instructions. Lookups that fail degrade to ids rather than hiding
// the summary.
func (m *BookingMachine) Summary(ctx context.Context, ws types.WorkflowState, userRef int64) string {
	d := ws.(*types.BookingDraft)

	service := fmt.Sprintf("service #%d", d.SubcategoryID)
	when := fmt.Sprintf("%s at %s", d.PreferredDate, d.PreferredTime)
	if sub, err := m.catalog.SubcategoryByID(ctx, d.SubcategoryID); err == nil {
		service = sub.Name
		from, to := ScheduleWindow(d.PreferredTime, sub.DefaultDuration)
		when = fmt.Sprintf("%s, %s to %s", d.PreferredDate, from, to)
	}
	option := fmt.Sprintf("option #%d", d.RateCardID)
	totalLine := ""
	if card, err := m.catalog.RateCardByID(ctx, d.RateCardID); err == nil {
		option = card.Name
		subtotal := card.Price.Mul(decimal.NewFromInt(int64(d.Quantity)))
		totalLine = fmt.Sprintf("\n  Subtotal: %s x %d = %s", formatMoney(card.Price), d.Quantity, formatMoney(subtotal))
	}
	where := fmt.Sprintf("address #%d", d.AddressID)
	if addr, err := m.catalog.AddressByID(ctx, d.AddressID, userRef); err == nil {
		where = fmt.Sprintf("%s (%s)", addr.Label, addr.Pincode)
	}
	instructions := "none"
	if d.SpecialInstructions != nil && *d.SpecialInstructions != "" {
		instructions = *d.SpecialInstructions
	}

	return fmt.Sprintf(
		"Here's your booking:\n  Service: %s\n  Option: %s%s\n  Address: %s\n  When: %s\n  Instructions: %s\nShall I confirm this booking? (yes/no)",
		service, option, totalLine, where, when, instructions)
}

// =============================================================================
// EXTRACTORS
// =============================================================================

func (m *BookingMachine) extractSubcategory(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.BookingDraft)

	id, ok := types.EntityInt64(turn.Entities, types.EntitySubcategoryID)
	if !ok {
		if !pending {
			return false, nil
		}
		return m.subcategoryByName(ctx, d, turn.Text)
	}

	sub, err := m.catalog.SubcategoryByID(ctx, id)
	if err != nil {
		if isMissingRow(err) {
			return false, ErrValidation(slotSubcategory, "I couldn't find that service. Could you describe what you need?")
		}
		return false, err
	}
	if !sub.Active {
		return false, ErrValidation(slotSubcategory, "That service isn't available right now. Could you pick a different one?")
	}
	d.SubcategoryID = sub.ID
	return true, nil
}

// subcategoryByName matches a free-text answer against active subcategory
// names and aliases. No match is not an error (the engine reprompts);
// several matches ask the user to narrow down.
func (m *BookingMachine) subcategoryByName(ctx context.Context, d *types.BookingDraft, text string) (bool, error) {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false, nil
	}
	subs, err := m.catalog.AllSubcategories(ctx)
	if err != nil {
		return false, err
	}

	var hit *types.Subcategory
	for i := range subs {
		if !subs[i].Active || !subcategoryMatches(&subs[i], t) {
			continue
		}
		if hit != nil && hit.ID != subs[i].ID {
			return false, ErrValidation(slotSubcategory, "I found more than one matching service. Could you be more specific?")
		}
		hit = &subs[i]
	}
	if hit == nil {
		return false, nil
	}
	d.SubcategoryID = hit.ID
	return true, nil
}

func subcategoryMatches(sub *types.Subcategory, t string) bool {
	name := strings.ToLower(sub.Name)
	if strings.Contains(t, name) || strings.EqualFold(t, name) {
		return true
	}
	for _, alias := range sub.Aliases {
		if strings.Contains(t, strings.ToLower(alias)) {
			return true
		}
	}
	return false
}

func (m *BookingMachine) extractRateCard(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.BookingDraft)
	if d.SubcategoryID == 0 {
		return false, nil
	}

	if id, ok := types.EntityInt64(turn.Entities, types.EntityRateCardID); ok {
		return m.resolveRateCard(ctx, d, id)
	}
	if !pending {
		return false, nil
	}
	if n, ok := bareNumber(turn.Text); ok {
		return m.resolveRateCard(ctx, d, n)
	}

	// Free text: match against option names under the chosen service.
	t := strings.ToLower(strings.TrimSpace(turn.Text))
	if t == "" {
		return false, nil
	}
	cards, err := m.catalog.RateCards(ctx, d.SubcategoryID)
	if err != nil {
		return false, err
	}
	var hit *types.RateCard
	matches := 0
	for _, c := range activeCards(cards) {
		name := strings.ToLower(c.Name)
		if strings.Contains(name, t) || strings.Contains(t, name) {
			c := c
			hit = &c
			matches++
		}
	}
	switch {
	case matches == 1:
		d.RateCardID = hit.ID
		return true, nil
	case matches > 1:
		return false, ErrValidation(slotRateCard, "A few options match that. Could you pick one by number?")
	default:
		return false, nil
	}
}

// resolveRateCard accepts either a rate-card id under the chosen service or
// a 1-based position in the prompted option list.
func (m *BookingMachine) resolveRateCard(ctx context.Context, d *types.BookingDraft, n int64) (bool, error) {
	cards, err := m.catalog.RateCards(ctx, d.SubcategoryID)
	if err != nil {
		return false, err
	}
	active := activeCards(cards)
	for _, c := range active {
		if c.ID == n {
			d.RateCardID = n
			return true, nil
		}
	}
	if n >= 1 && int(n) <= len(active) {
		d.RateCardID = active[n-1].ID
		return true, nil
	}
	return false, ErrValidation(slotRateCard, "I couldn't find that option here. Please pick one of the listed choices.")
}

func (m *BookingMachine) promptRateCard(ctx context.Context, ws types.WorkflowState) string {
	d := ws.(*types.BookingDraft)
	cards, err := m.catalog.RateCards(ctx, d.SubcategoryID)
	if err != nil {
		return "Which option would you like? You can give the option number."
	}
	active := activeCards(cards)
	if len(active) == 0 {
		return "Which option would you like? You can give the option number."
	}

	var b strings.Builder
	b.WriteString("Here are the options:\n")
	for i, c := range active {
		fmt.Fprintf(&b, "%d. %s: %s\n", i+1, c.Name, formatMoney(c.Price))
	}
	b.WriteString("Which one would you like?")
	return b.String()
}

// extractAddress resolves a saved address from a label ("home"), an id, or
// the default address, and checks the pincode is serviced for the chosen
// subcategory.
func (m *BookingMachine) extractAddress(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.BookingDraft)
	if !pending || d.SubcategoryID == 0 {
		return false, nil
	}
	t := strings.ToLower(strings.TrimSpace(turn.Text))
	if t == "" {
		return false, nil
	}

	addrs, err := m.catalog.AddressesForUser(ctx, turn.UserRef)
	if err != nil {
		return false, err
	}
	if len(addrs) == 0 {
		return false, ErrValidation(slotAddress, "I don't have any saved addresses for you. Please add one from your profile first.")
	}

	pick, verr := chooseAddress(addrs, t)
	if verr != nil {
		return false, verr
	}
	if pick == nil {
		return false, nil
	}

	serviceable, err := m.catalog.IsServiceable(ctx, d.SubcategoryID, pick.Pincode)
	if err != nil {
		return false, err
	}
	if !serviceable {
		return false, ErrValidation(slotAddress, "This pincode is not yet serviced; please pick a different address")
	}
	d.AddressID = pick.ID
	return true, nil
}

func chooseAddress(addrs []types.Address, t string) (*types.Address, error) {
	if n, ok := bareNumber(t); ok {
		for i := range addrs {
			if addrs[i].ID == n {
				return &addrs[i], nil
			}
		}
		return nil, ErrValidation(slotAddress, "I couldn't find an address with that id. You can say \"home\" or \"work\" instead.")
	}

	var hit *types.Address
	matches := 0
	for i := range addrs {
		label := strings.ToLower(addrs[i].Label)
		if label != "" && strings.Contains(t, label) {
			hit = &addrs[i]
			matches++
		}
	}
	switch {
	case matches == 1:
		return hit, nil
	case matches > 1:
		return nil, ErrValidation(slotAddress, "You have more than one address with that label. Could you give the address id?")
	}

	// "my address", "default", "usual place": fall back to the default
	// address, or the only one on file.
	if strings.Contains(t, "address") || strings.Contains(t, "default") || strings.Contains(t, "usual") {
		for i := range addrs {
			if addrs[i].IsDefault {
				return &addrs[i], nil
			}
		}
		if len(addrs) == 1 {
			return &addrs[0], nil
		}
	}
	return nil, nil
}

func (m *BookingMachine) extractQuantity(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.BookingDraft)

	if qty, ok := types.EntityInt(turn.Entities, types.EntityQuantity); ok {
		return setQuantity(d, qty)
	}
	if !pending {
		return false, nil
	}

	t := strings.ToLower(strings.TrimSpace(turn.Text))
	if n, ok := bareNumber(t); ok {
		return setQuantity(d, int(n))
	}
	if n, ok := wordNumbers[t]; ok {
		return setQuantity(d, n)
	}
	if isDecline(t) || strings.Contains(t, "default") || t == "just one" {
		return setQuantity(d, 1)
	}
	return false, nil
}

func setQuantity(d *types.BookingDraft, n int) (bool, error) {
	if n < 1 || n > maxQuantity {
		return false, ErrValidation(slotQuantity, "Quantity must be between 1 and %d. How many do you need?", maxQuantity)
	}
	d.Quantity = n
	return true, nil
}

func (m *BookingMachine) extractDate(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.BookingDraft)
	ds, ok := types.EntityString(turn.Entities, types.EntityDate)
	if !ok {
		return false, nil
	}

	day, err := time.Parse(dateLayout, ds)
	if err != nil {
		return false, ErrValidation(slotDate, "I couldn't read that date. Try a format like 2026-09-01.")
	}
	now := m.now()
	tomorrow := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	if day.Before(tomorrow) {
		return false, ErrValidation(slotDate, "The date must be at least tomorrow. Which day works for you?")
	}
	d.PreferredDate = ds
	return true, nil
}

func (m *BookingMachine) extractTime(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.BookingDraft)
	ts, ok := types.EntityString(turn.Entities, types.EntityTime)
	if !ok {
		return false, nil
	}

	if _, err := time.Parse("15:04", ts); err != nil {
		return false, ErrValidation(slotTime, "I couldn't read that time. Try something like 14:00 or 2pm.")
	}
	// Zero-padded HH:MM compares correctly as a string.
	if ts < dayStart || ts > dayEnd {
		return false, ErrValidation(slotTime, "We operate between 08:00 and 20:00. What time in that window works?")
	}
	d.PreferredTime = ts
	return true, nil
}

func (m *BookingMachine) extractInstructions(ctx context.Context, ws types.WorkflowState, turn Turn, pending bool) (bool, error) {
	d := ws.(*types.BookingDraft)
	if !pending {
		return false, nil
	}

	text := strings.TrimSpace(turn.Text)
	if text == "" || isDecline(text) {
		empty := ""
		d.SpecialInstructions = &empty
		return true, nil
	}
	d.SpecialInstructions = &text
	return true, nil
}
