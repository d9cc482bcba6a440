package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"convergeai/internal/types"
)

// countingRepo records per-method call counts over fixed data.
type countingRepo struct {
	types.CatalogRepo
	subs  []types.Subcategory
	cards map[int64][]types.RateCard

	subsCalls        int
	cardsCalls       int
	serviceableCalls int
	searchCalls      int
	lastSearch       types.RateCardSearch
}

func (r *countingRepo) AllSubcategories(ctx context.Context) ([]types.Subcategory, error) {
	r.subsCalls++
	return r.subs, nil
}

func (r *countingRepo) RateCards(ctx context.Context, subcategoryID int64) ([]types.RateCard, error) {
	r.cardsCalls++
	return r.cards[subcategoryID], nil
}

func (r *countingRepo) IsServiceable(ctx context.Context, subcategoryID int64, pincode string) (bool, error) {
	r.serviceableCalls++
	return pincode == "560001", nil
}

func (r *countingRepo) SearchRateCards(ctx context.Context, q types.RateCardSearch) ([]types.RateCard, error) {
	r.searchCalls++
	r.lastSearch = q
	return nil, nil
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestRepo() *countingRepo {
	return &countingRepo{
		subs: []types.Subcategory{
			{ID: 201, CategoryID: 2, Name: "AC Repair", Description: "Split and window AC servicing", Active: true,
				Aliases: []string{"ac service"}},
			{ID: 103, CategoryID: 1, Name: "Sofa Cleaning", Description: "Fabric and leather sofa shampoo", Active: true},
			{ID: 301, CategoryID: 3, Name: "Tap Repair", Description: "Leaking tap fixes", Active: false},
		},
		cards: map[int64][]types.RateCard{
			201: {
				{ID: 2002, SubcategoryID: 201, Name: "AC deep service", Price: price("1999.00"), Active: true},
				{ID: 2001, SubcategoryID: 201, Name: "AC inspection", Price: price("1499.00"), Active: true},
			},
			103: {
				{ID: 1003, SubcategoryID: 103, Name: "3-seater sofa shampoo", Price: price("799.00"), Active: true},
			},
			301: {
				{ID: 3001, SubcategoryID: 301, Name: "Tap fix", Price: price("299.00"), Active: true},
			},
		},
	}
}

func TestCachedReads(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.AllSubcategories(ctx); err != nil {
			t.Fatalf("AllSubcategories: %v", err)
		}
	}
	if repo.subsCalls != 1 {
		t.Errorf("subsCalls = %d, want 1", repo.subsCalls)
	}

	for i := 0; i < 3; i++ {
		ok, err := svc.IsServiceable(ctx, 201, "560001")
		if err != nil || !ok {
			t.Fatalf("IsServiceable = %v, %v", ok, err)
		}
	}
	if repo.serviceableCalls != 1 {
		t.Errorf("serviceableCalls = %d, want 1", repo.serviceableCalls)
	}

	// Different pincode is a different key.
	if ok, _ := svc.IsServiceable(ctx, 201, "999999"); ok {
		t.Error("999999 should not be serviceable")
	}
	if repo.serviceableCalls != 2 {
		t.Errorf("serviceableCalls = %d, want 2", repo.serviceableCalls)
	}
}

func TestSearchDefaultsLimit(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, time.Minute)

	if _, err := svc.SearchRateCards(context.Background(), types.RateCardSearch{Query: "ac"}); err != nil {
		t.Fatalf("SearchRateCards: %v", err)
	}
	if repo.lastSearch.Limit != searchLimit {
		t.Errorf("limit = %d, want %d", repo.lastSearch.Limit, searchLimit)
	}

	if _, err := svc.SearchRateCards(context.Background(), types.RateCardSearch{Query: "ac", Limit: 3}); err != nil {
		t.Fatalf("SearchRateCards: %v", err)
	}
	if repo.lastSearch.Limit != 3 {
		t.Errorf("limit = %d, want 3 (caller override)", repo.lastSearch.Limit)
	}
}

func TestRecommend(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, time.Minute)
	ctx := context.Background()

	cards, err := svc.Recommend(ctx, "my AC is not cooling, need a service")
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(cards) != 2 {
		t.Fatalf("cards = %d, want 2", len(cards))
	}
	// Cheapest first.
	if cards[0].ID != 2001 || cards[1].ID != 2002 {
		t.Errorf("order = [%d %d], want [2001 2002]", cards[0].ID, cards[1].ID)
	}
}

func TestRecommendSkipsInactiveAndUnmatched(t *testing.T) {
	repo := newTestRepo()
	svc := NewService(repo, time.Minute)
	ctx := context.Background()

	// "tap" only matches the inactive subcategory.
	cards, err := svc.Recommend(ctx, "tap leaking")
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(cards) != 0 {
		t.Errorf("cards = %v, want none (subcategory inactive)", cards)
	}

	cards, err = svc.Recommend(ctx, "zz")
	if err != nil || cards != nil {
		t.Errorf("short query: cards=%v err=%v, want nil/nil", cards, err)
	}
}

func TestRecommendCapsAtFive(t *testing.T) {
	repo := newTestRepo()
	// Inflate one subcategory with many cards.
	var many []types.RateCard
	for i := int64(1); i <= 8; i++ {
		many = append(many, types.RateCard{
			ID: 5000 + i, SubcategoryID: 103, Name: "Sofa option",
			Price: price("100.00").Mul(decimal.NewFromInt(i)), Active: true,
		})
	}
	repo.cards[103] = many

	svc := NewService(repo, time.Minute)
	cards, err := svc.Recommend(context.Background(), "sofa shampoo")
	if err != nil {
		t.Fatalf("Recommend: %v", err)
	}
	if len(cards) != recommendLimit {
		t.Fatalf("cards = %d, want %d", len(cards), recommendLimit)
	}
	for i := 1; i < len(cards); i++ {
		if cards[i].Price.LessThan(cards[i-1].Price) {
			t.Errorf("cards not in ascending price order: %v", cards)
		}
	}
}
