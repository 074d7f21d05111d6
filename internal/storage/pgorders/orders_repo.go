package pgorders

import (
	"context"
	"encoding/json"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// SaveOrder inserts or replaces the shipping-relevant columns of an order.
// Orders are owned by the storefront; this exists for seeding and tests.
func (s *Storage) SaveOrder(ctx context.Context, o models.OrderShipping) error {
	addr, err := json.Marshal(o.Address)
	if err != nil {
		return errors.Wrap(err, "marshal address")
	}
	status := o.Status
	if status == "" {
		status = "pending"
	}
	_, err = s.db.Exec(ctx, `
INSERT INTO orders (id, shipping_address, total_amount, guest_email, status, created_at, updated_at)
VALUES ($1, $2::jsonb, $3::numeric, NULLIF($4, ''), $5, now(), now())
ON CONFLICT (id) DO UPDATE SET
  shipping_address = EXCLUDED.shipping_address,
  total_amount = EXCLUDED.total_amount,
  guest_email = EXCLUDED.guest_email,
  status = EXCLUDED.status,
  updated_at = now()
`, o.OrderID, string(addr), o.Total.String(), o.Email, status)
	if err != nil {
		return errors.Wrap(err, "upsert order")
	}
	return nil
}

func (s *Storage) ReadShipping(ctx context.Context, orderID string) (models.OrderShipping, error) {
	o, err := scanShipping(s.db.QueryRow(ctx, selectShipping+` WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.OrderShipping{}, shiperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return models.OrderShipping{}, errors.Wrap(err, "read order")
	}
	return o, nil
}

func (s *Storage) WriteShipping(ctx context.Context, orderID string, addr models.ShippingAddress, status string) error {
	b, err := json.Marshal(addr)
	if err != nil {
		return shiperr.Persistence("marshal shipping address", err)
	}
	tag, err := s.db.Exec(ctx, `
UPDATE orders
SET shipping_address = $2::jsonb, status = $3, updated_at = now()
WHERE id = $1
`, orderID, string(b), status)
	if isUniqueViolation(err) {
		return shiperr.Conflict("tracking number %s already belongs to another order", addr.TrackingNumber())
	}
	if err != nil {
		return shiperr.Persistence("write order "+orderID, errors.Wrap(err, "update order"))
	}
	if tag.RowsAffected() == 0 {
		return shiperr.Persistence("write order "+orderID, errors.New("order row is gone"))
	}
	return nil
}

// ApplyShipment records a purchased label on the order unless the order
// already carries it. Returns false when nothing had to change.
func (s *Storage) ApplyShipment(ctx context.Context, sh models.Shipment) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// total_amount не читаем: событие его не меняет
	var (
		addrText *string
		status   string
	)
	err = tx.QueryRow(ctx, `SELECT shipping_address::text, status FROM orders WHERE id = $1 FOR UPDATE`, sh.OrderID).
		Scan(&addrText, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, shiperr.NotFound("order %s not found", sh.OrderID)
	}
	if err != nil {
		return false, errors.Wrap(err, "lock order")
	}
	var o models.OrderShipping
	if addrText != nil {
		o.Address = models.ParseShippingAddress([]byte(*addrText))
	}

	switch cur := o.Address.TrackingNumber(); {
	case cur == sh.TrackingNumber && status == models.OrderStatusShipped:
		return false, nil
	case cur != "" && cur != models.TrackingNumberPending && cur != sh.TrackingNumber:
		return false, shiperr.Conflict("order %s already has tracking %s, event carries %s", sh.OrderID, cur, sh.TrackingNumber)
	}

	b, err := json.Marshal(o.Address.WithShipment(sh))
	if err != nil {
		return false, errors.Wrap(err, "marshal shipping address")
	}
	if _, err := tx.Exec(ctx, `
UPDATE orders
SET shipping_address = $2::jsonb, status = $3, updated_at = now()
WHERE id = $1
`, sh.OrderID, string(b), models.OrderStatusShipped); err != nil {
		if isUniqueViolation(err) {
			return false, shiperr.Conflict("tracking number %s already belongs to another order", sh.TrackingNumber)
		}
		return false, errors.Wrap(err, "update order")
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit")
	}
	return true, nil
}

// isUniqueViolation matches 23505, raised here by uq_orders_tracking_number.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const selectShipping = `
SELECT id, shipping_address::text, total_amount::text, COALESCE(guest_email, ''), status
FROM orders`

func scanShipping(row pgx.Row) (models.OrderShipping, error) {
	var (
		o     models.OrderShipping
		addr  *string
		total string
	)
	if err := row.Scan(&o.OrderID, &addr, &total, &o.Email, &o.Status); err != nil {
		return models.OrderShipping{}, err
	}
	if addr != nil {
		o.Address = models.ParseShippingAddress([]byte(*addr))
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return models.OrderShipping{}, errors.Wrap(err, "parse total_amount")
	}
	o.Total = d
	return o, nil
}
