package pgorders

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  shipping_address JSONB NULL,
  total_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
  guest_email TEXT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		// Tracking numbers are unique once assigned; the pending placeholder repeats.
		`
CREATE UNIQUE INDEX IF NOT EXISTS uq_orders_tracking_number
  ON orders ((shipping_address->>'tracking_number'))
  WHERE shipping_address ? 'tracking_number' AND shipping_address->>'tracking_number' <> 'GENERADA'`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
