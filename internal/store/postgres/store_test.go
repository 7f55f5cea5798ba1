package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/ncecere/open_chat_usage/internal/services/usage"
)

type fakeRows struct {
	data [][]any
	pos  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.data[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(r.data[r.pos-1], dest)
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(values), len(dest))
	}
	for i, v := range values {
		switch d := dest[i].(type) {
		case *string:
			*d = v.(string)
		case *int64:
			*d = v.(int64)
		case *time.Time:
			*d = v.(time.Time)
		case *pgtype.Date:
			*d = pgtype.Date{Time: v.(time.Time), Valid: true}
		default:
			return fmt.Errorf("unsupported scan target %T", dest[i])
		}
	}
	return nil
}

type fakeQuerier struct {
	queries []string
	args    [][]any
	rows    [][]any
	row     fakeRow
	tags    []string
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.queries = append(q.queries, sql)
	q.args = append(q.args, args)
	return &fakeRows{data: q.rows}, nil
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.queries = append(q.queries, sql)
	q.args = append(q.args, args)
	return q.row
}

func (q *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	q.queries = append(q.queries, sql)
	q.args = append(q.args, args)
	tag := "INSERT 0 1"
	if len(q.tags) > 0 {
		tag, q.tags = q.tags[0], q.tags[1:]
	}
	return pgconn.NewCommandTag(tag), nil
}

func (q *fakeQuerier) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return &passthroughTx{q: q}, nil
}

// passthroughTx sends statements straight to the fake querier.
type passthroughTx struct {
	pgx.Tx
	q *fakeQuerier
}

func (tx *passthroughTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return tx.q.Exec(ctx, sql, args...)
}
func (tx *passthroughTx) Commit(context.Context) error   { return nil }
func (tx *passthroughTx) Rollback(context.Context) error { return nil }

// ledgerDB models the two usage tables with transactional visibility: writes
// made through a transaction only land on Commit.
type ledgerDB struct {
	fakeQuerier
	messages    map[string]bool
	dailyBumps  int
	failUpserts int
	commits     int
	rollbacks   int
}

func newLedgerDB() *ledgerDB {
	return &ledgerDB{messages: make(map[string]bool)}
}

func (db *ledgerDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return &ledgerTx{db: db}, nil
}

type ledgerTx struct {
	pgx.Tx
	db       *ledgerDB
	messages []string
	bumps    int
	done     bool
}

func (tx *ledgerTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	switch {
	case strings.Contains(sql, "INSERT INTO message_usage"):
		id := args[0].(string)
		if tx.db.messages[id] {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		}
		tx.messages = append(tx.messages, id)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case strings.Contains(sql, "INSERT INTO user_daily_usage"):
		if tx.db.failUpserts > 0 {
			tx.db.failUpserts--
			return pgconn.CommandTag{}, errors.New("connection reset")
		}
		tx.bumps++
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.CommandTag{}, fmt.Errorf("unexpected statement %q", sql)
}

func (tx *ledgerTx) Commit(context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	for _, id := range tx.messages {
		tx.db.messages[id] = true
	}
	tx.db.dailyBumps += tx.bumps
	tx.db.commits++
	return nil
}

func (tx *ledgerTx) Rollback(context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	tx.db.rollbacks++
	return nil
}

func TestBuildUsageQuery(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 5)

	query, args := buildUsageQuery(usage.UsageFilter{UserID: "u1", ModelID: "gpt-4o", Start: start, End: end})
	require.Contains(t, query, "created_at >= $1 AND created_at < $2 AND user_id = $3 AND model_id = $4")
	require.Equal(t, []any{start, end, "u1", "gpt-4o"}, args)

	query, args = buildUsageQuery(usage.UsageFilter{ModelID: usage.UnknownModel, Start: start, End: end})
	require.Contains(t, query, "COALESCE(model_id, '') = ''")
	require.NotContains(t, query, "LIMIT")
	require.Len(t, args, 2)

	query, args = buildUsageQuery(usage.UsageFilter{UserID: "u1", Start: start, End: end, Limit: 25, Offset: 50})
	require.True(t, strings.HasSuffix(query, "ORDER BY created_at DESC, message_id LIMIT $4 OFFSET $5"), query)
	require.Equal(t, []any{start, end, "u1", 25, 50}, args)
}

func TestSummarizeUsage(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	q := &fakeQuerier{rows: [][]any{
		{"", int64(2), int64(3), int64(4), int64(7), "0.1000004", "0.2", "0.3"},
		{"gpt-4o", int64(5), int64(10), int64(20), int64(30), "1", "2", "3"},
	}}
	models, err := New(q).SummarizeUsage(context.Background(), usage.UsageFilter{UserID: "u1", Start: start, End: start.AddDate(0, 0, 1), Limit: 10, Offset: 10})
	require.NoError(t, err)
	require.Len(t, models, 2)
	require.Equal(t, int64(2), models[0].Messages)
	require.Equal(t, "0.1", models[0].PromptCost.String())
	require.Equal(t, "gpt-4o", models[1].ModelID)
	require.Equal(t, int64(30), models[1].TotalTokens)
	require.Equal(t, "3", models[1].TotalCost.String())

	require.Contains(t, q.queries[0], "GROUP BY COALESCE(model_id, '')")
	require.NotContains(t, q.queries[0], "LIMIT")
	require.Equal(t, []any{start, start.AddDate(0, 0, 1), "u1"}, q.args[0])
}

func TestListUsageRowsParsesCosts(t *testing.T) {
	ts := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	q := &fakeQuerier{rows: [][]any{
		{"m1", "u1", "", ts, int64(10), int64(20), int64(30), "0.0000015", "0.000002", "0.0000035"},
	}}
	store := New(q)

	rows, err := store.ListUsageRows(context.Background(), usage.UsageFilter{UserID: "u1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "0.000002", rows[0].PromptCost.String())
	require.Equal(t, "0.000004", rows[0].TotalCost.String())
	require.Equal(t, time.UTC, rows[0].Timestamp.Location())
	require.Equal(t, int64(30), rows[0].TotalTokens)
}

func TestListUsageRowsRejectsBadCost(t *testing.T) {
	q := &fakeQuerier{rows: [][]any{
		{"m1", "u1", "a", time.Now(), int64(1), int64(1), int64(2), "abc", "0", "0"},
	}}
	_, err := New(q).ListUsageRows(context.Background(), usage.UsageFilter{})
	require.Error(t, err)
}

func TestGetUsageRowNotFound(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	_, err := New(q).GetUsageRow(context.Background(), "u1", "missing")
	require.ErrorIs(t, err, usage.ErrNotFound)
	require.Equal(t, []any{"u1", "missing"}, q.args[0])
}

func TestListDailyRowsConvertDates(t *testing.T) {
	day := time.Date(2025, time.January, 3, 0, 0, 0, 0, time.UTC)
	q := &fakeQuerier{rows: [][]any{{day, "u1", int64(2), int64(40)}}}
	store := New(q)

	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	auth, err := store.ListAuthDailyRows(context.Background(), start, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Equal(t, []usage.AuthDailyRow{{Day: day, UserID: "u1", Messages: 2, Tokens: 40}}, auth)
	require.Equal(t, pgtype.Date{Time: start, Valid: true}, q.args[0][0])

	anon, err := store.ListAnonDailyRows(context.Background(), start, start.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.Equal(t, "u1", anon[0].SessionHash)
}

func TestRecordMessageUsageSkipsReplays(t *testing.T) {
	q := &fakeQuerier{tags: []string{"INSERT 0 0"}}
	err := New(q).RecordMessageUsage(context.Background(), usage.Row{MessageID: "m1", UserID: "u1", ModelID: "a"})
	require.NoError(t, err)
	require.Len(t, q.queries, 1)

	q = &fakeQuerier{}
	err = New(q).RecordMessageUsage(context.Background(), usage.Row{MessageID: "m2", UserID: "u1", ModelID: usage.UnknownModel, TotalTokens: 9})
	require.NoError(t, err)
	require.Len(t, q.queries, 2)
	require.True(t, strings.Contains(q.queries[1], "user_daily_usage"))
	require.Nil(t, q.args[0][2])
}

func TestRecordMessageUsageRetryAfterFailedUpsert(t *testing.T) {
	db := newLedgerDB()
	db.failUpserts = 1
	store := New(db)
	row := usage.Row{MessageID: "m1", UserID: "u1", ModelID: "a", TotalTokens: 12}

	err := store.RecordMessageUsage(context.Background(), row)
	require.ErrorContains(t, err, "upsert user daily usage")
	require.Empty(t, db.messages)
	require.Zero(t, db.dailyBumps)
	require.Equal(t, 1, db.rollbacks)

	require.NoError(t, store.RecordMessageUsage(context.Background(), row))
	require.True(t, db.messages["m1"])
	require.Equal(t, 1, db.dailyBumps)

	// a replay after success is ignored
	require.NoError(t, store.RecordMessageUsage(context.Background(), row))
	require.Equal(t, 1, db.dailyBumps)
	require.Equal(t, 1, db.commits)
}
