package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/open_chat_usage/internal/services/usage"
)

// Querier is the subset of pgxpool.Pool the store needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store reads usage rows and daily aggregates from Postgres.
type Store struct {
	db Querier
}

func New(db Querier) *Store {
	return &Store{db: db}
}

const usageColumns = `message_id, user_id, COALESCE(model_id, ''), created_at,
	prompt_tokens, completion_tokens, total_tokens,
	prompt_cost::text, completion_cost::text, total_cost::text`

func buildUsageWhere(filter usage.UsageFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	add("created_at >= $%d", filter.Start)
	add("created_at < $%d", filter.End)
	if id := strings.TrimSpace(filter.UserID); id != "" {
		add("user_id = $%d", id)
	}
	if model := strings.TrimSpace(filter.ModelID); model != "" {
		if model == usage.UnknownModel {
			clauses = append(clauses, "COALESCE(model_id, '') = ''")
		} else {
			add("model_id = $%d", model)
		}
	}
	return strings.Join(clauses, " AND "), args
}

func buildUsageQuery(filter usage.UsageFilter) (string, []any) {
	where, args := buildUsageWhere(filter)
	query := "SELECT " + usageColumns + " FROM message_usage WHERE " + where +
		" ORDER BY created_at DESC, message_id"
	if filter.Limit > 0 {
		offset := filter.Offset
		if offset < 0 {
			offset = 0
		}
		args = append(args, filter.Limit, offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	return query, args
}

func buildSummaryQuery(filter usage.UsageFilter) (string, []any) {
	where, args := buildUsageWhere(filter)
	query := `SELECT COALESCE(model_id, ''), COUNT(*),
		COALESCE(SUM(prompt_tokens), 0)::bigint, COALESCE(SUM(completion_tokens), 0)::bigint, COALESCE(SUM(total_tokens), 0)::bigint,
		COALESCE(SUM(prompt_cost), 0)::text, COALESCE(SUM(completion_cost), 0)::text, COALESCE(SUM(total_cost), 0)::text
		FROM message_usage WHERE ` + where + `
		GROUP BY COALESCE(model_id, '')
		ORDER BY 1`
	return query, args
}

func (s *Store) ListUsageRows(ctx context.Context, filter usage.UsageFilter) ([]usage.Row, error) {
	query, args := buildUsageQuery(filter)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query message usage: %w", err)
	}
	defer rows.Close()

	var out []usage.Row
	for rows.Next() {
		row, err := scanUsageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message usage: %w", err)
	}
	return out, nil
}

// SummarizeUsage aggregates every row matching filter per model. Limit and
// Offset are ignored.
func (s *Store) SummarizeUsage(ctx context.Context, filter usage.UsageFilter) ([]usage.ModelUsage, error) {
	query, args := buildSummaryQuery(filter)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summarize message usage: %w", err)
	}
	defer rows.Close()

	var out []usage.ModelUsage
	for rows.Next() {
		var (
			m                                     usage.ModelUsage
			promptCost, completionCost, totalCost string
		)
		if err := rows.Scan(&m.ModelID, &m.Messages, &m.PromptTokens, &m.CompletionTokens, &m.TotalTokens,
			&promptCost, &completionCost, &totalCost); err != nil {
			return nil, fmt.Errorf("scan usage summary: %w", err)
		}
		if m.PromptCost, err = parseCost(promptCost); err != nil {
			return nil, err
		}
		if m.CompletionCost, err = parseCost(completionCost); err != nil {
			return nil, err
		}
		if m.TotalCost, err = parseCost(totalCost); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage summary: %w", err)
	}
	return out, nil
}

func (s *Store) GetUsageRow(ctx context.Context, userID, messageID string) (usage.Row, error) {
	query := "SELECT " + usageColumns + " FROM message_usage WHERE user_id = $1 AND message_id = $2"
	row, err := scanUsageRow(s.db.QueryRow(ctx, query, userID, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return usage.Row{}, usage.ErrNotFound
		}
		return usage.Row{}, err
	}
	return row, nil
}

func scanUsageRow(scanner pgx.Row) (usage.Row, error) {
	var (
		row                                   usage.Row
		promptCost, completionCost, totalCost string
	)
	if err := scanner.Scan(
		&row.MessageID,
		&row.UserID,
		&row.ModelID,
		&row.Timestamp,
		&row.PromptTokens,
		&row.CompletionTokens,
		&row.TotalTokens,
		&promptCost,
		&completionCost,
		&totalCost,
	); err != nil {
		return usage.Row{}, fmt.Errorf("scan message usage: %w", err)
	}
	var err error
	if row.PromptCost, err = parseCost(promptCost); err != nil {
		return usage.Row{}, err
	}
	if row.CompletionCost, err = parseCost(completionCost); err != nil {
		return usage.Row{}, err
	}
	if row.TotalCost, err = parseCost(totalCost); err != nil {
		return usage.Row{}, err
	}
	row.Timestamp = row.Timestamp.UTC()
	return row, nil
}

func parseCost(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse cost %q: %w", raw, err)
	}
	return usage.Round6(d), nil
}

func (s *Store) ListAuthDailyRows(ctx context.Context, start, end time.Time) ([]usage.AuthDailyRow, error) {
	rows, err := s.db.Query(ctx, `SELECT usage_date, user_id, messages, tokens
		FROM user_daily_usage
		WHERE usage_date >= $1 AND usage_date < $2
		ORDER BY usage_date, user_id`, toPgDate(start), toPgDate(end))
	if err != nil {
		return nil, fmt.Errorf("query user daily usage: %w", err)
	}
	defer rows.Close()

	var out []usage.AuthDailyRow
	for rows.Next() {
		var (
			day pgtype.Date
			r   usage.AuthDailyRow
		)
		if err := rows.Scan(&day, &r.UserID, &r.Messages, &r.Tokens); err != nil {
			return nil, fmt.Errorf("scan user daily usage: %w", err)
		}
		r.Day = fromPgDate(day)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user daily usage: %w", err)
	}
	return out, nil
}

func (s *Store) ListAnonDailyRows(ctx context.Context, start, end time.Time) ([]usage.AnonDailyRow, error) {
	rows, err := s.db.Query(ctx, `SELECT usage_date, session_hash, messages, tokens
		FROM anonymous_daily_usage
		WHERE usage_date >= $1 AND usage_date < $2
		ORDER BY usage_date, session_hash`, toPgDate(start), toPgDate(end))
	if err != nil {
		return nil, fmt.Errorf("query anonymous daily usage: %w", err)
	}
	defer rows.Close()

	var out []usage.AnonDailyRow
	for rows.Next() {
		var (
			day pgtype.Date
			r   usage.AnonDailyRow
		)
		if err := rows.Scan(&day, &r.SessionHash, &r.Messages, &r.Tokens); err != nil {
			return nil, fmt.Errorf("scan anonymous daily usage: %w", err)
		}
		r.Day = fromPgDate(day)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate anonymous daily usage: %w", err)
	}
	return out, nil
}

// RecordMessageUsage stores one completed message and bumps the caller's daily
// aggregate in the same transaction. Replays of the same message id are ignored.
func (s *Store) RecordMessageUsage(ctx context.Context, row usage.Row) error {
	ts := row.Timestamp.UTC()
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	var modelID *string
	if id := strings.TrimSpace(row.ModelID); id != "" && id != usage.UnknownModel {
		modelID = &id
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin usage transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `INSERT INTO message_usage
		(message_id, user_id, model_id, created_at, prompt_tokens, completion_tokens, total_tokens, prompt_cost, completion_cost, total_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::numeric)
		ON CONFLICT (message_id) DO NOTHING`,
		row.MessageID, row.UserID, modelID, ts,
		row.PromptTokens, row.CompletionTokens, row.TotalTokens,
		usage.Round6(row.PromptCost).String(), usage.Round6(row.CompletionCost).String(), usage.Round6(row.TotalCost).String(),
	)
	if err != nil {
		return fmt.Errorf("insert message usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	_, err = tx.Exec(ctx, `INSERT INTO user_daily_usage (usage_date, user_id, messages, tokens)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (usage_date, user_id) DO UPDATE
		SET messages = user_daily_usage.messages + 1, tokens = user_daily_usage.tokens + EXCLUDED.tokens`,
		toPgDate(ts), row.UserID, row.TotalTokens)
	if err != nil {
		return fmt.Errorf("upsert user daily usage: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit usage transaction: %w", err)
	}
	return nil
}

// RecordAnonymousUsage bumps the anonymous daily aggregate for a session hash.
func (s *Store) RecordAnonymousUsage(ctx context.Context, day time.Time, sessionHash string, tokens int64) error {
	_, err := s.db.Exec(ctx, `INSERT INTO anonymous_daily_usage (usage_date, session_hash, messages, tokens)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (usage_date, session_hash) DO UPDATE
		SET messages = anonymous_daily_usage.messages + 1, tokens = anonymous_daily_usage.tokens + EXCLUDED.tokens`,
		toPgDate(day), sessionHash, tokens)
	if err != nil {
		return fmt.Errorf("upsert anonymous daily usage: %w", err)
	}
	return nil
}

func toPgDate(t time.Time) pgtype.Date {
	t = t.UTC()
	return pgtype.Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), Valid: true}
}

func fromPgDate(d pgtype.Date) time.Time {
	if !d.Valid {
		return time.Time{}
	}
	t := d.Time
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
