package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"convergeai/internal/types"
)

// =============================================================================
// CATALOG (read-mostly; internal/catalog layers a TTL cache on top)
// =============================================================================

// CatalogStore implements types.CatalogRepo.
type CatalogStore struct {
	st *Store
}

// Categories returns active categories ordered by name.
func (r *CatalogStore) Categories(ctx context.Context) ([]types.Category, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	rows, err := r.st.db.QueryContext(ctx,
		"SELECT id, name, description, active FROM categories WHERE active = 1 ORDER BY name")
	if err != nil {
		return nil, dbErr("list categories", err)
	}
	defer rows.Close()

	var out []types.Category
	for rows.Next() {
		var (
			c    types.Category
			desc sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Name, &desc, &c.Active); err != nil {
			return nil, dbErr("list categories", err)
		}
		c.Description = desc.String
		out = append(out, c)
	}
	return out, rows.Err()
}

// Subcategories returns active subcategories under a category.
func (r *CatalogStore) Subcategories(ctx context.Context, categoryID int64) ([]types.Subcategory, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	return r.subcategories(ctx, "WHERE active = 1 AND category_id = ? ORDER BY name", categoryID)
}

// AllSubcategories returns every active subcategory; entity extraction scans
// its aliases.
func (r *CatalogStore) AllSubcategories(ctx context.Context) ([]types.Subcategory, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	return r.subcategories(ctx, "WHERE active = 1 ORDER BY name")
}

// SubcategoryByID returns one subcategory, active or not.
func (r *CatalogStore) SubcategoryByID(ctx context.Context, id int64) (*types.Subcategory, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	out, err := r.subcategories(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("subcategory %d: %w", id, sql.ErrNoRows)
	}
	return &out[0], nil
}

func (r *CatalogStore) subcategories(ctx context.Context, clause string, args ...any) ([]types.Subcategory, error) {
	rows, err := r.st.db.QueryContext(ctx,
		"SELECT id, category_id, name, description, default_duration_minutes, active, aliases FROM subcategories "+clause,
		args...)
	if err != nil {
		return nil, dbErr("list subcategories", err)
	}
	defer rows.Close()

	var out []types.Subcategory
	for rows.Next() {
		var (
			sc      types.Subcategory
			desc    sql.NullString
			aliases sql.NullString
		)
		if err := rows.Scan(&sc.ID, &sc.CategoryID, &sc.Name, &desc, &sc.DefaultDuration, &sc.Active, &aliases); err != nil {
			return nil, dbErr("list subcategories", err)
		}
		sc.Description = desc.String
		if aliases.Valid && aliases.String != "" {
			if err := json.Unmarshal([]byte(aliases.String), &sc.Aliases); err != nil {
				return nil, fmt.Errorf("decode aliases for subcategory %d: %w", sc.ID, err)
			}
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// RateCards returns active rate cards for a subcategory, cheapest first.
func (r *CatalogStore) RateCards(ctx context.Context, subcategoryID int64) ([]types.RateCard, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()
	return r.rateCards(ctx,
		"WHERE active = 1 AND subcategory_id = ? ORDER BY CAST(price AS REAL) ASC", subcategoryID)
}

// RateCardByID returns one rate card, active or not; callers check Active.
func (r *CatalogStore) RateCardByID(ctx context.Context, id int64) (*types.RateCard, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	out, err := r.rateCards(ctx, "WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: id %d", types.ErrRateCardNotFound, id)
	}
	return &out[0], nil
}

// SearchRateCards text-searches active rate cards by card or subcategory
// name with optional price band and category constraints.
func (r *CatalogStore) SearchRateCards(ctx context.Context, q types.RateCardSearch) ([]types.RateCard, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT rc.id, rc.subcategory_id, rc.provider_id, rc.name, rc.price, rc.strike_price, rc.active
		FROM rate_cards rc
		JOIN subcategories sc ON sc.id = rc.subcategory_id
		WHERE rc.active = 1 AND sc.active = 1`
	var args []any

	if q.Query != "" {
		// Match at word starts only; a bare substring LIKE would let a
		// short query like "ac" pick up "machine".
		query += " AND (rc.name LIKE ? OR rc.name LIKE ? OR sc.name LIKE ? OR sc.name LIKE ?)"
		prefix := q.Query + "%"
		infix := "% " + q.Query + "%"
		args = append(args, prefix, infix, prefix, infix)
	}
	if q.CategoryID != 0 {
		query += " AND sc.category_id = ?"
		args = append(args, q.CategoryID)
	}
	if q.MinPrice != nil {
		query += " AND CAST(rc.price AS REAL) >= ?"
		args = append(args, q.MinPrice.InexactFloat64())
	}
	if q.MaxPrice != nil {
		query += " AND CAST(rc.price AS REAL) <= ?"
		args = append(args, q.MaxPrice.InexactFloat64())
	}
	query += " ORDER BY CAST(rc.price AS REAL) ASC LIMIT ?"
	args = append(args, limit)

	return r.scanRateCards(ctx, query, args...)
}

func (r *CatalogStore) rateCards(ctx context.Context, clause string, args ...any) ([]types.RateCard, error) {
	return r.scanRateCards(ctx,
		"SELECT id, subcategory_id, provider_id, name, price, strike_price, active FROM rate_cards "+clause,
		args...)
}

func (r *CatalogStore) scanRateCards(ctx context.Context, query string, args ...any) ([]types.RateCard, error) {
	rows, err := r.st.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbErr("list rate cards", err)
	}
	defer rows.Close()

	var out []types.RateCard
	for rows.Next() {
		var (
			rc          types.RateCard
			providerID  sql.NullInt64
			price       string
			strikePrice sql.NullString
		)
		if err := rows.Scan(&rc.ID, &rc.SubcategoryID, &providerID, &rc.Name, &price, &strikePrice, &rc.Active); err != nil {
			return nil, dbErr("list rate cards", err)
		}
		rc.ProviderID = int64Ptr(providerID)
		if rc.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("decode price %q: %w", price, err)
		}
		if strikePrice.Valid && strikePrice.String != "" {
			sp, err := decimal.NewFromString(strikePrice.String)
			if err != nil {
				return nil, fmt.Errorf("decode strike price %q: %w", strikePrice.String, err)
			}
			rc.StrikePrice = &sp
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}

// IsServiceable reports whether at least one active, verified provider
// covers the subcategory at the pincode.
func (r *CatalogStore) IsServiceable(ctx context.Context, subcategoryID int64, pincode string) (bool, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var n int
	err := r.st.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM provider_coverage pc
		 JOIN providers p ON p.id = pc.provider_id
		 WHERE pc.subcategory_id = ? AND pc.pincode = ? AND p.active = 1 AND p.verified = 1`,
		subcategoryID, pincode).Scan(&n)
	if err != nil {
		return false, dbErr("serviceability check", err)
	}
	return n > 0, nil
}

// AddressByID returns one address owned by userRef.
func (r *CatalogStore) AddressByID(ctx context.Context, id, userRef int64) (*types.Address, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var (
		a         types.Address
		createdAt string
	)
	err := r.st.db.QueryRowContext(ctx,
		`SELECT id, user_ref, label, line1, city, pincode, is_default, created_at
		 FROM addresses WHERE id = ? AND user_ref = ?`, id, userRef).
		Scan(&a.ID, &a.UserRef, &a.Label, &a.Line1, &a.City, &a.Pincode, &a.IsDefault, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", types.ErrAddressNotFound, id)
	}
	if err != nil {
		return nil, dbErr("get address", err)
	}
	a.CreatedAt = parseTime(createdAt)
	return &a, nil
}

// AddressesForUser returns a user's addresses, default first.
func (r *CatalogStore) AddressesForUser(ctx context.Context, userRef int64) ([]types.Address, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	rows, err := r.st.db.QueryContext(ctx,
		`SELECT id, user_ref, label, line1, city, pincode, is_default, created_at
		 FROM addresses WHERE user_ref = ? ORDER BY is_default DESC, id ASC`, userRef)
	if err != nil {
		return nil, dbErr("list addresses", err)
	}
	defer rows.Close()

	var out []types.Address
	for rows.Next() {
		var (
			a         types.Address
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.UserRef, &a.Label, &a.Line1, &a.City, &a.Pincode, &a.IsDefault, &createdAt); err != nil {
			return nil, dbErr("list addresses", err)
		}
		a.CreatedAt = parseTime(createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
