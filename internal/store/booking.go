package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"convergeai/internal/logging"
	"convergeai/internal/types"
)

// =============================================================================
// BOOKINGS
// =============================================================================

// BookingStore implements types.BookingRepo.
type BookingStore struct {
	st *Store
}

const bookingColumns = `id, order_id, booking_number, user_ref, address_ref, subtotal, total,
	status, payment_status, preferred_date, preferred_time, special_instructions,
	cancelled_at, cancellation_reason, created_at`

// CreateWithItem persists the booking and its item atomically, filling in
// the generated ids.
func (r *BookingStore) CreateWithItem(ctx context.Context, b *types.Booking, item *types.BookingItem) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}

	tx, err := r.st.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("create booking", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO bookings
		 (order_id, booking_number, user_ref, address_ref, subtotal, total, status, payment_status,
		  preferred_date, preferred_time, special_instructions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.OrderID, b.BookingNumber, b.UserRef, b.AddressRef,
		b.Subtotal.String(), b.Total.String(), string(b.Status), string(b.PaymentStatus),
		b.PreferredDate, b.PreferredTime, nullStr(b.SpecialInstructions), fmtTime(b.CreatedAt))
	if err != nil {
		return dbErr("create booking", err)
	}
	bookingID, err := res.LastInsertId()
	if err != nil {
		return dbErr("create booking", err)
	}

	item.BookingID = bookingID
	res, err = tx.ExecContext(ctx,
		`INSERT INTO booking_items
		 (booking_id, rate_card_id, provider_ref, address_ref, service_name, quantity,
		  unit_price, total_amount, final_amount, scheduled_date, scheduled_window_from,
		  scheduled_window_to, status, payment_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bookingID, item.RateCardID, nullableInt64(item.ProviderRef), item.AddressRef,
		item.ServiceName, item.Quantity, item.UnitPrice.String(), item.TotalAmount.String(),
		item.FinalAmount.String(), item.ScheduledDate, item.ScheduledWindowFrom,
		item.ScheduledWindowTo, string(item.Status), string(item.PaymentStatus))
	if err != nil {
		return dbErr("create booking item", err)
	}
	itemID, err := res.LastInsertId()
	if err != nil {
		return dbErr("create booking item", err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("create booking", err)
	}

	b.ID = bookingID
	item.ID = itemID
	b.Items = []types.BookingItem{*item}
	logging.Store("Booking %s committed (id=%d user=%d total=%s)", b.OrderID, b.ID, b.UserRef, b.Total.String())
	return nil
}

// GetByID loads a booking with its items.
func (r *BookingStore) GetByID(ctx context.Context, id int64) (*types.Booking, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	row := r.st.db.QueryRowContext(ctx, "SELECT "+bookingColumns+" FROM bookings WHERE id = ?", id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", types.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, dbErr("get booking", err)
	}
	items, err := r.itemsFor(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	b.Items = items
	return b, nil
}

// ListForUser returns a user's bookings, items included, newest first.
func (r *BookingStore) ListForUser(ctx context.Context, userRef int64, limit int) ([]types.Booking, error) {
	timer := logging.StartTimer(logging.CategoryStore, "BookingStore.ListForUser")
	defer timer.Stop()

	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	return r.list(ctx, "WHERE user_ref = ? ORDER BY created_at DESC, id DESC LIMIT ?", userRef, limit)
}

// ListPending returns pending bookings, oldest first, for the queue projection.
func (r *BookingStore) ListPending(ctx context.Context, limit int) ([]types.Booking, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	if limit <= 0 {
		limit = 200
	}
	return r.list(ctx, "WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?", string(types.BookingPending), limit)
}

func (r *BookingStore) list(ctx context.Context, clause string, args ...any) ([]types.Booking, error) {
	rows, err := r.st.db.QueryContext(ctx, "SELECT "+bookingColumns+" FROM bookings "+clause, args...)
	if err != nil {
		return nil, dbErr("list bookings", err)
	}
	defer rows.Close()

	var out []types.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, dbErr("list bookings", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list bookings", err)
	}

	for i := range out {
		items, err := r.itemsFor(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Items = items
	}
	return out, nil
}

// Cancel transitions a cancellable booking and its items to cancelled.
func (r *BookingStore) Cancel(ctx context.Context, bookingID int64, reason string, at time.Time) error {
	r.st.mu.Lock()
	defer r.st.mu.Unlock()

	tx, err := r.st.db.BeginTx(ctx, nil)
	if err != nil {
		return dbErr("cancel booking", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, "SELECT status FROM bookings WHERE id = ?", bookingID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: id %d", types.ErrBookingNotFound, bookingID)
	}
	if err != nil {
		return dbErr("cancel booking", err)
	}
	if !types.BookingStatus(status).Cancellable() {
		return fmt.Errorf("%w: status %s", types.ErrBookingNotCancellable, status)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE bookings SET status = ?, cancelled_at = ?, cancellation_reason = ? WHERE id = ?",
		string(types.BookingCancelled), fmtTime(at), reason, bookingID); err != nil {
		return dbErr("cancel booking", err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE booking_items SET status = ? WHERE booking_id = ?",
		string(types.BookingCancelled), bookingID); err != nil {
		return dbErr("cancel booking items", err)
	}

	if err := tx.Commit(); err != nil {
		return dbErr("cancel booking", err)
	}
	logging.Store("Booking %d cancelled (%s)", bookingID, reason)
	return nil
}

// CountForUser counts all of a user's bookings for VIP scoring.
func (r *BookingStore) CountForUser(ctx context.Context, userRef int64) (int, error) {
	r.st.mu.RLock()
	defer r.st.mu.RUnlock()

	var n int
	err := r.st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bookings WHERE user_ref = ?", userRef).Scan(&n)
	if err != nil {
		return 0, dbErr("count bookings", err)
	}
	return n, nil
}

func (r *BookingStore) itemsFor(ctx context.Context, bookingID int64) ([]types.BookingItem, error) {
	rows, err := r.st.db.QueryContext(ctx,
		`SELECT id, booking_id, rate_card_id, provider_ref, address_ref, service_name, quantity,
		        unit_price, total_amount, final_amount, scheduled_date, scheduled_window_from,
		        scheduled_window_to, status, payment_status
		 FROM booking_items WHERE booking_id = ? ORDER BY id ASC`, bookingID)
	if err != nil {
		return nil, dbErr("load booking items", err)
	}
	defer rows.Close()

	var items []types.BookingItem
	for rows.Next() {
		var (
			it            types.BookingItem
			providerRef   sql.NullInt64
			unitPrice     string
			totalAmount   string
			finalAmount   string
			status        string
			paymentStatus string
		)
		if err := rows.Scan(&it.ID, &it.BookingID, &it.RateCardID, &providerRef, &it.AddressRef,
			&it.ServiceName, &it.Quantity, &unitPrice, &totalAmount, &finalAmount,
			&it.ScheduledDate, &it.ScheduledWindowFrom, &it.ScheduledWindowTo, &status, &paymentStatus); err != nil {
			return nil, dbErr("load booking items", err)
		}
		it.ProviderRef = int64Ptr(providerRef)
		if it.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("decode unit price %q: %w", unitPrice, err)
		}
		if it.TotalAmount, err = decimal.NewFromString(totalAmount); err != nil {
			return nil, fmt.Errorf("decode total amount %q: %w", totalAmount, err)
		}
		if it.FinalAmount, err = decimal.NewFromString(finalAmount); err != nil {
			return nil, fmt.Errorf("decode final amount %q: %w", finalAmount, err)
		}
		it.Status = types.BookingStatus(status)
		it.PaymentStatus = types.PaymentStatus(paymentStatus)
		items = append(items, it)
	}
	return items, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*types.Booking, error) {
	var (
		b             types.Booking
		subtotal      string
		total         string
		status        string
		paymentStatus string
		instructions  sql.NullString
		cancelledAt   sql.NullString
		cancelReason  sql.NullString
		createdAt     string
	)
	if err := row.Scan(&b.ID, &b.OrderID, &b.BookingNumber, &b.UserRef, &b.AddressRef,
		&subtotal, &total, &status, &paymentStatus, &b.PreferredDate, &b.PreferredTime,
		&instructions, &cancelledAt, &cancelReason, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if b.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("decode subtotal %q: %w", subtotal, err)
	}
	if b.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("decode total %q: %w", total, err)
	}
	b.Status = types.BookingStatus(status)
	b.PaymentStatus = types.PaymentStatus(paymentStatus)
	b.SpecialInstructions = instructions.String
	b.CancelledAt = parseTimeN(cancelledAt)
	b.CancellationReason = cancelReason.String
	b.CreatedAt = parseTime(createdAt)
	return &b, nil
}
