package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"convergeai/internal/logging"
)

// =============================================================================
// DEMO CATALOG SEED
// =============================================================================
//
// Seed loads a small fixed catalog so a fresh install can serve bookings and
// discovery immediately. Every insert uses OR IGNORE with explicit ids, so
// reseeding an existing database is a no-op.

type seedSubcategory struct {
	id       int64
	category int64
	name     string
	duration int
	aliases  []string
}

type seedRateCard struct {
	id          int64
	subcategory int64
	provider    int64
	name        string
	price       string
	strikePrice string
}

// Seed inserts the demo categories, subcategories, rate cards, providers,
// coverage, and two addresses for the demo user. Safe to call repeatedly.
func (s *Store) Seed(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryStore, "Store.Seed")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("seed", err)
	}
	defer tx.Rollback()

	categories := []struct {
		id   int64
		name string
		desc string
	}{
		{1, "Cleaning", "Home and furniture cleaning services"},
		{2, "Appliance Repair", "Repair and servicing of household appliances"},
		{3, "Plumbing", "Taps, leaks, and drainage work"},
	}
	for _, c := range categories {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO categories (id, name, description, active) VALUES (?, ?, ?, 1)",
			c.id, c.name, c.desc); err != nil {
			return dbErr("seed categories", err)
		}
	}

	subcategories := []seedSubcategory{
		{101, 1, "Home Deep Cleaning", 180, []string{"deep clean", "deep cleaning", "full home cleaning"}},
		{102, 1, "Bathroom Cleaning", 90, []string{"bathroom deep clean", "washroom cleaning"}},
		{103, 1, "Sofa Cleaning", 60, []string{"sofa shampoo", "couch cleaning"}},
		{201, 2, "AC Repair", 60, []string{"ac repair", "air conditioner repair", "ac service", "a/c repair"}},
		{202, 2, "Refrigerator Repair", 60, []string{"fridge repair", "refrigerator service"}},
		{203, 2, "Washing Machine Repair", 60, []string{"washer repair", "washing machine service"}},
		{301, 3, "Tap and Leak Repair", 45, []string{"leaking tap", "tap repair", "leakage fix"}},
		{302, 3, "Drain Cleaning", 60, []string{"blocked drain", "drain unclogging"}},
	}
	for _, sc := range subcategories {
		aliases, err := json.Marshal(sc.aliases)
		if err != nil {
			return fmt.Errorf("seed subcategories: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO subcategories (id, category_id, name, default_duration_minutes, active, aliases)
			 VALUES (?, ?, ?, ?, 1, ?)`,
			sc.id, sc.category, sc.name, sc.duration, string(aliases)); err != nil {
			return dbErr("seed subcategories", err)
		}
	}

	rateCards := []seedRateCard{
		{1001, 101, 1, "2 BHK deep clean", "2999.00", "3499.00"},
		{1002, 101, 1, "3 BHK deep clean", "3999.00", "4499.00"},
		{1003, 102, 1, "Single bathroom clean", "599.00", ""},
		{1004, 103, 1, "5-seater sofa shampoo", "899.00", "1099.00"},
		{2001, 201, 2, "AC inspection and gas top-up", "1499.00", "1799.00"},
		{2002, 201, 2, "AC full service", "799.00", ""},
		{2003, 202, 2, "Refrigerator diagnosis and repair", "699.00", ""},
		{2004, 203, 2, "Washing machine repair", "749.00", ""},
		{3001, 301, 3, "Tap or leak fix", "349.00", ""},
		{3002, 302, 3, "Drain unclogging", "499.00", ""},
	}
	for _, rc := range rateCards {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO rate_cards (id, subcategory_id, provider_id, name, price, strike_price, active)
			 VALUES (?, ?, ?, ?, ?, ?, 1)`,
			rc.id, rc.subcategory, rc.provider, rc.name, rc.price, nullStr(rc.strikePrice)); err != nil {
			return dbErr("seed rate cards", err)
		}
	}

	providers := []struct {
		id   int64
		name string
	}{
		{1, "SparkleHome Services"},
		{2, "CoolFix Appliance Care"},
		{3, "FlowRight Plumbing"},
	}
	for _, p := range providers {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO providers (id, name, active, verified) VALUES (?, ?, 1, 1)",
			p.id, p.name); err != nil {
			return dbErr("seed providers", err)
		}
	}

	coverage := []struct {
		provider int64
		subs     []int64
		pincodes []string
	}{
		{1, []int64{101, 102, 103}, []string{"560001", "560076", "560102"}},
		{2, []int64{201, 202, 203}, []string{"560001", "560076", "560102"}},
		{3, []int64{301, 302}, []string{"560001", "560076"}},
	}
	for _, cov := range coverage {
		for _, sub := range cov.subs {
			for _, pin := range cov.pincodes {
				if _, err := tx.ExecContext(ctx,
					"INSERT OR IGNORE INTO provider_coverage (provider_id, subcategory_id, pincode) VALUES (?, ?, ?)",
					cov.provider, sub, pin); err != nil {
					return dbErr("seed coverage", err)
				}
			}
		}
	}

	now := fmtTime(time.Now().UTC())
	addresses := []struct {
		id        int64
		label     string
		line1     string
		pincode   string
		isDefault int
	}{
		{1, "Home", "221B Residency Rd", "560001", 1},
		{2, "Office", "4 Tech Park, Outer Ring Rd", "560102", 0},
	}
	for _, a := range addresses {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO addresses (id, user_ref, label, line1, city, pincode, is_default, created_at)
			 VALUES (?, 1, ?, ?, 'Bengaluru', ?, ?, ?)`,
			a.id, a.label, a.line1, a.pincode, a.isDefault, now); err != nil {
			return dbErr("seed addresses", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbErr("seed", err)
	}
	logging.Store("Seeded demo catalog: %d categories, %d subcategories, %d rate cards",
		len(categories), len(subcategories), len(rateCards))
	return nil
}
