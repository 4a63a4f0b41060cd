package postgres

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/positionbot/internal/domain"
)

// LedgerStore is a domain.LedgerSink and domain.LedgerReader over a ledger
// table. The table may predate the status_label column; Probe reports which
// shape it has and later queries only touch columns that exist.
type LedgerStore struct {
	pool      *pgxpool.Pool
	table     string
	tableName string
	hasStatus atomic.Bool
}

// NewLedgerStore creates a LedgerStore writing to table (default
// "ledger_records").
func NewLedgerStore(pool *pgxpool.Pool, table string) *LedgerStore {
	if table == "" {
		table = "ledger_records"
	}
	return &LedgerStore{
		pool:      pool,
		table:     pgx.Identifier{table}.Sanitize(),
		tableName: table,
	}
}

// Name identifies the sink in logs.
func (s *LedgerStore) Name() string { return "postgres:" + s.tableName }

// Probe inspects information_schema for the ledger table and its
// status_label column.
func (s *LedgerStore) Probe(ctx context.Context) (domain.LedgerCapabilities, error) {
	const query = `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE column_name = 'status_label')
		FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1`
	var cols, status int
	if err := s.pool.QueryRow(ctx, query, s.tableName).Scan(&cols, &status); err != nil {
		return domain.LedgerCapabilities{}, fmt.Errorf("postgres: probe ledger %s: %w", s.tableName, err)
	}
	if cols == 0 {
		return domain.LedgerCapabilities{}, fmt.Errorf("postgres: probe ledger: table %s: %w", s.tableName, domain.ErrNotFound)
	}
	s.hasStatus.Store(status > 0)
	return domain.LedgerCapabilities{StatusField: status > 0}, nil
}

// Append inserts one ledger record. The status label is written only when
// the record carries one and the column exists.
func (s *LedgerStore) Append(ctx context.Context, rec domain.LedgerRecord) error {
	cols := []string{
		"record_id", "operation", "position_id", "parent_id", "symbol", "direction",
		"trade_type", "quantity", "price", "leverage", "exit_price", "profit_loss",
		"close_reason", "order_id", "created_at",
	}
	args := []any{
		rec.RecordID, string(rec.Operation), rec.PositionID, rec.ParentID, rec.Symbol, string(rec.Direction),
		string(rec.TradeType), nullDec(rec.Quantity), nullDec(rec.Price), rec.Leverage,
		nullDec(rec.ExitPrice), nullDec(rec.ProfitLoss),
		string(rec.CloseReason), rec.OrderID, rec.CreatedAt,
	}
	if rec.Status != "" && s.hasStatus.Load() {
		cols = append(cols, "status_label")
		args = append(args, string(rec.Status))
	}

	placeholders := make([]string, len(args))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		s.table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("postgres: append ledger %s: %w", rec.RecordID, err)
	}
	return nil
}

// UpdateStatus applies a status flip and venue-confirmed actuals to an
// existing record.
func (s *LedgerStore) UpdateStatus(ctx context.Context, upd domain.StatusUpdate) error {
	var sets []string
	args := []any{upd.RecordID}
	set := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Status != "" && s.hasStatus.Load() {
		set("status_label", string(upd.Status))
	}
	if upd.OrderID != "" {
		set("order_id", upd.OrderID)
	}
	if upd.EntryPrice != nil {
		set("price", *upd.EntryPrice)
	}
	if upd.Quantity != nil {
		set("quantity", *upd.Quantity)
	}
	if len(sets) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE record_id = $1`, s.table, strings.Join(sets, ", "))
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("postgres: update ledger %s: %w", upd.RecordID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update ledger %s: %w", upd.RecordID, domain.ErrNotFound)
	}
	return nil
}

// ListRecords returns ledger records oldest first.
func (s *LedgerStore) ListRecords(ctx context.Context, opts domain.ListOpts) ([]domain.LedgerRecord, error) {
	statusCol := "''"
	if s.hasStatus.Load() {
		statusCol = "COALESCE(status_label, '')"
	}
	query := fmt.Sprintf(`SELECT record_id, operation, position_id, parent_id, symbol, direction,
		trade_type, quantity, price, leverage, exit_price, profit_loss,
		close_reason, order_id, created_at, %s
		FROM %s WHERE 1=1`, statusCol, s.table)

	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}
	if opts.Since != nil {
		add(" AND created_at >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add(" AND created_at < $%d", *opts.Until)
	}
	query += " ORDER BY created_at ASC, record_id ASC"
	if opts.Limit > 0 {
		add(" LIMIT $%d", opts.Limit)
	}
	if opts.Offset > 0 {
		add(" OFFSET $%d", opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerRecord
	for rows.Next() {
		var (
			r                                    domain.LedgerRecord
			op, dir, tt, reason, status          string
			qty, price, exitPrice, profitLoss    decimal.NullDecimal
		)
		if err := rows.Scan(
			&r.RecordID, &op, &r.PositionID, &r.ParentID, &r.Symbol, &dir,
			&tt, &qty, &price, &r.Leverage, &exitPrice, &profitLoss,
			&reason, &r.OrderID, &r.CreatedAt, &status,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan ledger: %w", err)
		}
		r.Operation = domain.Operation(op)
		r.Direction = domain.Direction(dir)
		r.TradeType = domain.TradeType(tt)
		r.CloseReason = domain.CloseReason(reason)
		r.Status = domain.StatusLabel(status)
		r.Quantity, r.Price = fromNull(qty), fromNull(price)
		r.ExitPrice, r.ProfitLoss = fromNull(exitPrice), fromNull(profitLoss)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list ledger rows: %w", err)
	}
	return out, nil
}

var (
	_ domain.LedgerSink   = (*LedgerStore)(nil)
	_ domain.LedgerReader = (*LedgerStore)(nil)
)
