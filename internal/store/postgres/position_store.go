package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/tradewatch/internal/domain"
)

// PositionStore keeps positions that have left the active set. It
// implements domain.PositionArchiver and domain.PositionHistory.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, side, entry_price, exit_price,
	quantity, commission, take_profit, stop_loss, trailing_stop,
	realized_pnl, pnl_percent, status, close_reason,
	entry_time, closed_at, data_provider, notes`

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		var side, status string
		var reason, provider, notes *string

		if err := rows.Scan(
			&p.ID, &p.Symbol, &side, &p.EntryPrice, &p.ExitPrice,
			&p.Quantity, &p.Commission, &p.TakeProfit, &p.StopLoss, &p.TrailingStop,
			&p.UnrealizedPnL, &p.UnrealizedPnLPercent, &status, &reason,
			&p.EntryTime, &p.ClosedAt, &provider, &notes,
		); err != nil {
			return nil, err
		}
		p.Side = domain.Side(side)
		p.Status = domain.PositionStatus(status)
		if p.ExitPrice != nil {
			p.CurrentPrice = *p.ExitPrice
		}
		if reason != nil {
			p.CloseReason = domain.CloseReason(*reason)
		}
		if provider != nil {
			p.DataProvider = *provider
		}
		if notes != nil {
			p.Notes = *notes
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Archive upserts pos. Re-archiving the same id overwrites the row.
func (s *PositionStore) Archive(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO position_history (
			id, symbol, side, entry_price, exit_price,
			quantity, commission, take_profit, stop_loss, trailing_stop,
			realized_pnl, pnl_percent, status, close_reason,
			entry_time, closed_at, data_provider, notes, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16, $17, $18, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			exit_price   = EXCLUDED.exit_price,
			realized_pnl = EXCLUDED.realized_pnl,
			pnl_percent  = EXCLUDED.pnl_percent,
			status       = EXCLUDED.status,
			close_reason = EXCLUDED.close_reason,
			closed_at    = EXCLUDED.closed_at,
			updated_at   = NOW()`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Side), p.EntryPrice, p.ExitPrice,
		p.Quantity, p.Commission, p.TakeProfit, p.StopLoss, p.TrailingStop,
		p.UnrealizedPnL, p.UnrealizedPnLPercent, string(p.Status), nullable(string(p.CloseReason)),
		p.EntryTime, p.ClosedAt, nullable(p.DataProvider), nullable(p.Notes),
	)
	if err != nil {
		return fmt.Errorf("postgres: archive position %s: %w", p.ID, err)
	}
	return nil
}

// Recent returns up to limit archived positions, most recently closed first.
// An empty symbol matches every position.
func (s *PositionStore) Recent(ctx context.Context, symbol string, limit int) ([]domain.Position, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + positionSelectCols + ` FROM position_history
		WHERE $1 = '' OR symbol = $1
		ORDER BY closed_at DESC NULLS LAST
		LIMIT $2`

	rows, err := s.pool.Query(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list position history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan position history: %w", err)
	}
	return positions, nil
}

// Compile-time interface checks.
var (
	_ domain.PositionArchiver = (*PositionStore)(nil)
	_ domain.PositionHistory  = (*PositionStore)(nil)
)
