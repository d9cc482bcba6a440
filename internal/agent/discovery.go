package agent

import (
	"context"
	"fmt"
	"strings"

	"convergeai/internal/catalog"
	"convergeai/internal/types"
)

// discoveryDisplayCap limits how many search hits one reply lists. The
// search itself fetches more so the cap message can say what was left out.
const discoveryDisplayCap = 10

// DiscoveryAgent answers service and price inquiries from the catalog. It is
// read-only: no workflow, no writes, just progressively narrower listings
// that end in a nudge toward booking.
type DiscoveryAgent struct {
	catalog *catalog.Service
}

func NewDiscoveryAgent(svc *catalog.Service) *DiscoveryAgent {
	return &DiscoveryAgent{catalog: svc}
}

func (a *DiscoveryAgent) Name() string { return "discovery" }

func (a *DiscoveryAgent) Handle(ctx context.Context, turn TurnContext) types.AgentOutcome {
	entities := turn.Classification.Entities

	if id, ok := types.EntityInt64(entities, types.EntityRateCardID); ok {
		if out, done := a.rateCardDetails(ctx, turn, id); done {
			return out
		}
	}
	if id, ok := types.EntityInt64(entities, types.EntitySubcategoryID); ok {
		if out, done := a.subcategoryOptions(ctx, turn, id); done {
			return out
		}
	}

	query, ok := types.EntityString(entities, types.EntityQuery)
	if !ok || strings.TrimSpace(query) == "" {
		query = turn.Text
	}
	return a.search(ctx, turn, query)
}

// rateCardDetails answers a question about one specific option. Unknown or
// inactive cards fall through to text search instead of a dead end.
func (a *DiscoveryAgent) rateCardDetails(ctx context.Context, turn TurnContext, id int64) (types.AgentOutcome, bool) {
	card, err := a.catalog.RateCardByID(ctx, id)
	if err != nil {
		if types.Retryable(err) {
			return failedTurn(turn, err), true
		}
		return types.AgentOutcome{}, false
	}
	if !card.Active {
		return types.AgentOutcome{}, false
	}
	sub, err := a.catalog.SubcategoryByID(ctx, card.SubcategoryID)
	if err != nil {
		return failedTurn(turn, err), true
	}

	price := money(card.Price)
	if card.StrikePrice != nil && card.StrikePrice.GreaterThan(card.Price) {
		price = fmt.Sprintf("%s (was %s)", price, money(*card.StrikePrice))
	}
	reply := fmt.Sprintf("%s under %s costs %s. A typical visit takes %d minutes. Say \"book %s\" when you're ready.",
		card.Name, sub.Name, price, sub.DefaultDuration, strings.ToLower(sub.Name))
	return types.AgentOutcome{
		ReplyText:   reply,
		ActionTaken: types.ActionCatalogBrowse,
		Metadata:    map[string]any{"view": "rate_card", "rate_card_id": card.ID},
	}, true
}

// subcategoryOptions lists the active options under one service.
func (a *DiscoveryAgent) subcategoryOptions(ctx context.Context, turn TurnContext, id int64) (types.AgentOutcome, bool) {
	sub, err := a.catalog.SubcategoryByID(ctx, id)
	if err != nil {
		if types.Retryable(err) {
			return failedTurn(turn, err), true
		}
		return types.AgentOutcome{}, false
	}
	if !sub.Active {
		return types.AgentOutcome{}, false
	}
	cards, err := a.catalog.RateCards(ctx, sub.ID)
	if err != nil {
		return failedTurn(turn, err), true
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Here's what we offer for %s:\n", sub.Name)
	n := 0
	for _, c := range cards {
		if !c.Active {
			continue
		}
		n++
		fmt.Fprintf(&sb, "%d. %s: %s\n", n, c.Name, money(c.Price))
	}
	if n == 0 {
		return types.AgentOutcome{
			ReplyText:   fmt.Sprintf("We list %s but there are no options available right now. Is there another service I can look up?", sub.Name),
			ActionTaken: types.ActionCatalogBrowse,
			Metadata:    map[string]any{"view": "subcategory", "options": 0},
		}, true
	}
	sb.WriteString("Say the one you'd like to book.")
	return types.AgentOutcome{
		ReplyText:   sb.String(),
		ActionTaken: types.ActionCatalogBrowse,
		Metadata:    map[string]any{"view": "subcategory", "subcategory_id": sub.ID, "options": n},
	}, true
}

// search runs the text search, falling back to keyword recommendations and
// finally to the top-level category list so the reply always offers a path
// forward.
func (a *DiscoveryAgent) search(ctx context.Context, turn TurnContext, query string) types.AgentOutcome {
	view := "search"
	cards, err := a.catalog.SearchRateCards(ctx, types.RateCardSearch{Query: query})
	if err != nil {
		return failedTurn(turn, err)
	}
	if len(cards) == 0 {
		view = "recommend"
		cards, err = a.catalog.Recommend(ctx, query)
		if err != nil {
			return failedTurn(turn, err)
		}
	}
	if len(cards) == 0 {
		return a.browseCategories(ctx, turn)
	}

	shown := cards
	if len(shown) > discoveryDisplayCap {
		shown = shown[:discoveryDisplayCap]
	}
	var sb strings.Builder
	sb.WriteString("Here's what I found:\n")
	for i, c := range shown {
		name := c.Name
		if sub, serr := a.catalog.SubcategoryByID(ctx, c.SubcategoryID); serr == nil {
			name = sub.Name + ": " + c.Name
		}
		fmt.Fprintf(&sb, "%d. %s (%s)\n", i+1, name, money(c.Price))
	}
	if extra := len(cards) - len(shown); extra > 0 {
		fmt.Fprintf(&sb, "...and %d more.\n", extra)
	}
	sb.WriteString("Tell me which one you'd like, or say \"book\" to get started.")
	return types.AgentOutcome{
		ReplyText:   sb.String(),
		ActionTaken: types.ActionCatalogBrowse,
		Metadata:    map[string]any{"view": view, "results": len(cards)},
	}
}

func (a *DiscoveryAgent) browseCategories(ctx context.Context, turn TurnContext) types.AgentOutcome {
	cats, err := a.catalog.Categories(ctx)
	if err != nil {
		return failedTurn(turn, err)
	}
	if len(cats) == 0 {
		return types.AgentOutcome{
			ReplyText:   "I couldn't find a matching service, and the catalog looks empty right now. Please try again in a bit.",
			ActionTaken: types.ActionCatalogBrowse,
			Metadata:    map[string]any{"view": "categories", "results": 0},
		}
	}

	var sb strings.Builder
	sb.WriteString("I couldn't find an exact match, but here's what we offer:\n")
	for i, c := range cats {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, c.Name)
	}
	sb.WriteString("Which of these interests you?")
	return types.AgentOutcome{
		ReplyText:   sb.String(),
		ActionTaken: types.ActionCatalogBrowse,
		Metadata:    map[string]any{"view": "categories", "results": len(cats)},
	}
}
