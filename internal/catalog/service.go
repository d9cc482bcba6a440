// Package catalog layers a TTL cache and the discovery operations on top of
// the raw catalog repository. The catalog is read-mostly and administered
// outside this system, so every reader goes through here: agents get
// memoized browse calls, and the classifier's alias index rides the same
// cache instead of hitting SQLite per turn.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"convergeai/internal/logging"
	"convergeai/internal/types"
)

const (
	// DefaultTTL bounds how stale a cached catalog read may be.
	DefaultTTL = 5 * time.Minute

	// searchLimit caps text search results, cheapest first.
	searchLimit = 20

	// recommendLimit caps recommendations, cheapest first.
	recommendLimit = 5
)

// Service implements types.CatalogRepo with caching and adds discovery
// recommendations. Search results and user addresses are never cached: the
// key space is unbounded for the former and the latter change externally.
type Service struct {
	repo types.CatalogRepo
	mem  *gocache.Cache
}

// NewService wraps repo with a TTL cache. ttl <= 0 uses DefaultTTL.
func NewService(repo types.CatalogRepo, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		repo: repo,
		mem:  gocache.New(ttl, time.Minute),
	}
}

// =============================================================================
// CACHED READS
// =============================================================================

// Categories lists active categories.
func (s *Service) Categories(ctx context.Context) ([]types.Category, error) {
	const key = "categories"
	if v, ok := s.mem.Get(key); ok {
		return v.([]types.Category), nil
	}
	out, err := s.repo.Categories(ctx)
	if err != nil {
		return nil, err
	}
	s.mem.Set(key, out, gocache.DefaultExpiration)
	return out, nil
}

// Subcategories lists active subcategories under a category.
func (s *Service) Subcategories(ctx context.Context, categoryID int64) ([]types.Subcategory, error) {
	key := fmt.Sprintf("subcategories:%d", categoryID)
	if v, ok := s.mem.Get(key); ok {
		return v.([]types.Subcategory), nil
	}
	out, err := s.repo.Subcategories(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	s.mem.Set(key, out, gocache.DefaultExpiration)
	return out, nil
}

// AllSubcategories lists every subcategory. The classifier's alias index is
// built from this call.
func (s *Service) AllSubcategories(ctx context.Context) ([]types.Subcategory, error) {
	const key = "subcategories:all"
	if v, ok := s.mem.Get(key); ok {
		return v.([]types.Subcategory), nil
	}
	out, err := s.repo.AllSubcategories(ctx)
	if err != nil {
		return nil, err
	}
	s.mem.Set(key, out, gocache.DefaultExpiration)
	return out, nil
}

// SubcategoryByID loads one subcategory.
func (s *Service) SubcategoryByID(ctx context.Context, id int64) (*types.Subcategory, error) {
	key := fmt.Sprintf("subcategory:%d", id)
	if v, ok := s.mem.Get(key); ok {
		return v.(*types.Subcategory), nil
	}
	out, err := s.repo.SubcategoryByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mem.Set(key, out, gocache.DefaultExpiration)
	return out, nil
}

// RateCards lists active rate cards under a subcategory.
func (s *Service) RateCards(ctx context.Context, subcategoryID int64) ([]types.RateCard, error) {
	key := fmt.Sprintf("ratecards:%d", subcategoryID)
	if v, ok := s.mem.Get(key); ok {
		return v.([]types.RateCard), nil
	}
	out, err := s.repo.RateCards(ctx, subcategoryID)
	if err != nil {
		return nil, err
	}
	s.mem.Set(key, out, gocache.DefaultExpiration)
	return out, nil
}

// RateCardByID loads one rate card.
func (s *Service) RateCardByID(ctx context.Context, id int64) (*types.RateCard, error) {
	key := fmt.Sprintf("ratecard:%d", id)
	if v, ok := s.mem.Get(key); ok {
		return v.(*types.RateCard), nil
	}
	out, err := s.repo.RateCardByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.mem.Set(key, out, gocache.DefaultExpiration)
	return out, nil
}

// IsServiceable reports provider coverage for (subcategory, pincode).
// Cached: the booking confirm step re-checks this within the same few
// minutes the slot-filling asked it.
func (s *Service) IsServiceable(ctx context.Context, subcategoryID int64, pincode string) (bool, error) {
	key := fmt.Sprintf("serviceable:%d:%s", subcategoryID, pincode)
	if v, ok := s.mem.Get(key); ok {
		return v.(bool), nil
	}
	out, err := s.repo.IsServiceable(ctx, subcategoryID, pincode)
	if err != nil {
		return false, err
	}
	s.mem.Set(key, out, gocache.DefaultExpiration)
	return out, nil
}

// =============================================================================
// PASS-THROUGH READS
// =============================================================================

// SearchRateCards text-searches rate cards, cheapest first. An unset limit
// defaults to the discovery cap of 20.
func (s *Service) SearchRateCards(ctx context.Context, q types.RateCardSearch) ([]types.RateCard, error) {
	if q.Limit <= 0 {
		q.Limit = searchLimit
	}
	return s.repo.SearchRateCards(ctx, q)
}

// AddressByID loads one address belonging to the user.
func (s *Service) AddressByID(ctx context.Context, id, userRef int64) (*types.Address, error) {
	return s.repo.AddressByID(ctx, id, userRef)
}

// AddressesForUser lists a user's addresses.
func (s *Service) AddressesForUser(ctx context.Context, userRef int64) ([]types.Address, error) {
	return s.repo.AddressesForUser(ctx, userRef)
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

// Recommend keyword-matches the query against subcategory names,
// descriptions, and aliases, then returns the matching rate cards cheapest
// first, capped at 5. An empty or unmatched query returns no results.
func (s *Service) Recommend(ctx context.Context, query string) ([]types.RateCard, error) {
	keywords := recommendKeywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	subs, err := s.AllSubcategories(ctx)
	if err != nil {
		return nil, err
	}

	var cards []types.RateCard
	for _, sc := range subs {
		if !sc.Active || !subcategoryMatches(sc, keywords) {
			continue
		}
		rcs, err := s.RateCards(ctx, sc.ID)
		if err != nil {
			return nil, err
		}
		cards = append(cards, rcs...)
	}

	sort.Slice(cards, func(i, j int) bool {
		if c := cards[i].Price.Cmp(cards[j].Price); c != 0 {
			return c < 0
		}
		return cards[i].ID < cards[j].ID
	})
	if len(cards) > recommendLimit {
		cards = cards[:recommendLimit]
	}

	logging.StoreDebug("recommend: %q -> %d keywords, %d cards", query, len(keywords), len(cards))
	return cards, nil
}

// recommendKeywords lowercases the query and keeps word tokens of length >= 3.
func recommendKeywords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) >= 3 {
			out = append(out, f)
		}
	}
	return out
}

func subcategoryMatches(sc types.Subcategory, keywords []string) bool {
	haystack := strings.ToLower(sc.Name + " " + sc.Description)
	for _, alias := range sc.Aliases {
		haystack += " " + strings.ToLower(alias)
	}
	for _, kw := range keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}
