package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

// PositionStore implements domain.PositionStore with one row per position.
// Legs are stored inline as JSONB.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, direction, quantity, entry_price, entry_value,
	trade_type, leverage, take_profit, stop_loss, status, open_time, close_time,
	close_price, close_value, close_reason, profit_loss, profit_loss_percent,
	actual_profit_loss, actual_profit_loss_percent, legs, venue_order_ids,
	strategy, notes, closing_order, updated_at`

func nullDec(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNull(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                                   domain.Position
		direction, tradeType, status, reason string
		tp, sl, closePrice, closeValue      decimal.NullDecimal
		pl, plPct, actual, actualPct        decimal.NullDecimal
		legsJSON, closingJSON               []byte
	)
	err := row.Scan(
		&p.ID, &p.Symbol, &direction, &p.Quantity, &p.EntryPrice, &p.EntryValue,
		&tradeType, &p.Leverage, &tp, &sl, &status, &p.OpenTime, &p.CloseTime,
		&closePrice, &closeValue, &reason, &pl, &plPct,
		&actual, &actualPct, &legsJSON, &p.VenueOrderIDs,
		&p.Strategy, &p.Notes, &closingJSON, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Direction = domain.Direction(direction)
	p.TradeType = domain.TradeType(tradeType)
	p.Status = domain.PositionStatus(status)
	p.CloseReason = domain.CloseReason(reason)
	p.TakeProfit, p.StopLoss = fromNull(tp), fromNull(sl)
	p.ClosePrice, p.CloseValue = fromNull(closePrice), fromNull(closeValue)
	p.ProfitLoss, p.ProfitLossPercent = fromNull(pl), fromNull(plPct)
	p.ActualProfitLoss, p.ActualProfitLossPercent = fromNull(actual), fromNull(actualPct)
	if len(legsJSON) > 0 {
		if err := json.Unmarshal(legsJSON, &p.Legs); err != nil {
			return domain.Position{}, fmt.Errorf("decode legs: %w", err)
		}
	}
	if len(p.Legs) == 0 {
		p.Legs = nil
	}
	if len(closingJSON) > 0 && string(closingJSON) != "null" {
		p.Closing = &domain.ClosingOrder{}
		if err := json.Unmarshal(closingJSON, p.Closing); err != nil {
			return domain.Position{}, fmt.Errorf("decode closing order: %w", err)
		}
	}
	if len(p.VenueOrderIDs) == 0 {
		p.VenueOrderIDs = nil
	}
	return p, nil
}

// positionArgs returns the column values in positionSelectCols order, minus
// updated_at.
func positionArgs(p domain.Position) ([]any, error) {
	legs := p.Legs
	if legs == nil {
		legs = []domain.PositionLeg{}
	}
	legsJSON, err := json.Marshal(legs)
	if err != nil {
		return nil, fmt.Errorf("encode legs: %w", err)
	}
	ids := p.VenueOrderIDs
	if ids == nil {
		ids = []string{}
	}
	var closingJSON []byte
	if p.Closing != nil {
		closingJSON, err = json.Marshal(p.Closing)
		if err != nil {
			return nil, fmt.Errorf("encode closing order: %w", err)
		}
	}
	return []any{
		p.ID, p.Symbol, string(p.Direction), p.Quantity, p.EntryPrice, p.EntryValue,
		string(p.TradeType), p.Leverage, nullDec(p.TakeProfit), nullDec(p.StopLoss),
		string(p.Status), p.OpenTime, p.CloseTime,
		nullDec(p.ClosePrice), nullDec(p.CloseValue), string(p.CloseReason),
		nullDec(p.ProfitLoss), nullDec(p.ProfitLossPercent),
		nullDec(p.ActualProfitLoss), nullDec(p.ActualProfitLossPercent),
		legsJSON, ids, p.Strategy, p.Notes, closingJSON,
	}, nil
}

// Create inserts a new position. An existing ID yields ErrAlreadyExists.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	args, err := positionArgs(p)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	const query = `
		INSERT INTO positions (
			id, symbol, direction, quantity, entry_price, entry_value,
			trade_type, leverage, take_profit, stop_loss, status, open_time, close_time,
			close_price, close_value, close_reason, profit_loss, profit_loss_percent,
			actual_profit_loss, actual_profit_loss_percent, legs, venue_order_ids,
			strategy, notes, closing_order, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22,
			$23, $24, $25, NOW()
		)
		ON CONFLICT (id) DO NOTHING`
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, domain.ErrAlreadyExists)
	}
	return nil
}

// Save replaces every mutable column of an existing position.
func (s *PositionStore) Save(ctx context.Context, p domain.Position) error {
	args, err := positionArgs(p)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", p.ID, err)
	}
	const query = `
		UPDATE positions SET
			symbol = $2, direction = $3, quantity = $4, entry_price = $5, entry_value = $6,
			trade_type = $7, leverage = $8, take_profit = $9, stop_loss = $10,
			status = $11, open_time = $12, close_time = $13,
			close_price = $14, close_value = $15, close_reason = $16,
			profit_loss = $17, profit_loss_percent = $18,
			actual_profit_loss = $19, actual_profit_loss_percent = $20,
			legs = $21, venue_order_ids = $22, strategy = $23, notes = $24,
			closing_order = $25, updated_at = NOW()
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: save position %s: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a single position.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE id = $1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// FindBySymbol returns the earliest-inserted position matching symbol and
// status.
func (s *PositionStore) FindBySymbol(ctx context.Context, symbol string, status domain.PositionStatus) (domain.Position, error) {
	symbol = domain.NormalizeSymbol(symbol)
	query := `SELECT ` + positionSelectCols + `
		FROM positions WHERE symbol = $1 AND status = $2
		ORDER BY seq ASC LIMIT 1`
	p, err := scanPosition(s.pool.QueryRow(ctx, query, symbol, string(status)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: %s %s: %w", status, symbol, domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: find position %s: %w", symbol, err)
	}
	return p, nil
}

// ListByStatus returns positions in insertion order. An empty status lists
// everything; Since/Until filter on open_time.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}

	if status != "" {
		add(" AND status = $%d", string(status))
	}
	if opts.Since != nil {
		add(" AND open_time >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add(" AND open_time < $%d", *opts.Until)
	}
	query += " ORDER BY seq ASC"
	if opts.Limit > 0 {
		add(" LIMIT $%d", opts.Limit)
	}
	if opts.Offset > 0 {
		add(" OFFSET $%d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}

var _ domain.PositionStore = (*PositionStore)(nil)
