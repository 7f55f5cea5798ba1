package usage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/errgroup"

	"github.com/ncecere/open_chat_usage/internal/storage/reports"
	"github.com/ncecere/open_chat_usage/internal/timeutil"
)

var (
	ErrInvalidRange       = timeutil.ErrInvalidRange
	ErrNotFound           = errors.New("usage record not found")
	ErrArchiveUnavailable = errors.New("report archive not configured")
)

// UsageFilter narrows the per-message rows returned by the store. End is
// exclusive. A zero Limit returns every matching row.
type UsageFilter struct {
	UserID  string
	ModelID string
	Start   time.Time
	End     time.Time
	Limit   int
	Offset  int
}

// Store is the relational read side consumed by the service.
type Store interface {
	ListUsageRows(ctx context.Context, filter UsageFilter) ([]Row, error)
	SummarizeUsage(ctx context.Context, filter UsageFilter) ([]ModelUsage, error)
	GetUsageRow(ctx context.Context, userID, messageID string) (Row, error)
	ListAuthDailyRows(ctx context.Context, start, end time.Time) ([]AuthDailyRow, error)
	ListAnonDailyRows(ctx context.Context, start, end time.Time) ([]AnonDailyRow, error)
}

// ResponseCache memoizes serialized responses across instances.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// GenerationCache holds recently viewed generation details in process.
type GenerationCache interface {
	Get(key string) (Row, bool)
	Add(key string, value Row)
}

type Options struct {
	Responses   ResponseCache
	Generations GenerationCache
	Archive     reports.Store
	Logger      *slog.Logger
	Now         func() time.Time
}

// Service exposes the cost reports and admin analytics built on the usage store.
type Service struct {
	store       Store
	responses   ResponseCache
	generations GenerationCache
	archive     reports.Store
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(store Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       store,
		responses:   opts.Responses,
		generations: opts.Generations,
		archive:     opts.Archive,
		logger:      logger,
		now:         now,
	}
}

// RangeInfo echoes the resolved range back to callers.
type RangeInfo struct {
	Key   string `json:"range"`
	Start string `json:"start"`
	End   string `json:"end"`
}

func rangeInfo(r timeutil.DateRange) RangeInfo {
	return RangeInfo{Key: r.Key, Start: r.StartDate(), End: r.EndDate()}
}

type CostReportParams struct {
	UserID   string
	ModelID  string
	Range    timeutil.RangeQuery
	Page     int
	PageSize int
}

type CostReportResponse struct {
	Range RangeInfo `json:"range"`
	CostReport
}

type DailyCostsResponse struct {
	Range RangeInfo    `json:"range"`
	Days  []DailyTotal `json:"days"`
}

type ModelsDailyResponse struct {
	Range     RangeInfo     `json:"range"`
	TopModels int           `json:"top_models"`
	SingleDay bool          `json:"single_day"`
	Series    StackedSeries `json:"series"`
}

type AdminUsageResponse struct {
	Range RangeInfo `json:"range"`
	MergedSeries
}

type ExportResult struct {
	Key   string    `json:"key"`
	Range RangeInfo `json:"range"`
	Days  int       `json:"days"`
	Bytes int64     `json:"bytes"`
}

func (s *Service) resolve(q timeutil.RangeQuery) (timeutil.DateRange, error) {
	return timeutil.ResolveDateRange(q, s.now())
}

func usageFilter(userID, modelID string, r timeutil.DateRange) UsageFilter {
	start, end := r.Window().Bounds()
	return UsageFilter{
		UserID:  userID,
		ModelID: strings.TrimSpace(modelID),
		Start:   start,
		End:     end,
	}
}

func (s *Service) listRows(ctx context.Context, userID, modelID string, r timeutil.DateRange) ([]Row, error) {
	rows, err := s.store.ListUsageRows(ctx, usageFilter(userID, modelID, r))
	if err != nil {
		return nil, fmt.Errorf("list usage rows: %w", err)
	}
	filtered := make([]Row, 0, len(rows))
	for _, row := range rows {
		if r.Contains(row.Timestamp) {
			filtered = append(filtered, row)
		}
	}
	return filtered, nil
}

// CostReport returns a page of the caller's usage rows plus whole-range totals.
// Totals come from the store's per-model summary; only the requested page of
// rows is loaded.
func (s *Service) CostReport(ctx context.Context, params CostReportParams) (CostReportResponse, error) {
	r, err := s.resolve(params.Range)
	if err != nil {
		return CostReportResponse{}, err
	}
	filter := usageFilter(params.UserID, params.ModelID, r)
	models, err := s.store.SummarizeUsage(ctx, filter)
	if err != nil {
		return CostReportResponse{}, fmt.Errorf("summarize usage rows: %w", err)
	}

	var total int64
	for _, m := range models {
		total += m.Messages
	}
	pagination, offset, ok := paginate(int(total), params.Page, params.PageSize)

	var rows []Row
	if ok {
		filter.Limit = pagination.PageSize
		filter.Offset = offset
		if rows, err = s.store.ListUsageRows(ctx, filter); err != nil {
			return CostReportResponse{}, fmt.Errorf("list usage rows: %w", err)
		}
	}
	return CostReportResponse{
		Range:      rangeInfo(r),
		CostReport: newCostReport(rows, pagination, models),
	}, nil
}

// DailyCosts returns one total per day of the range.
func (s *Service) DailyCosts(ctx context.Context, userID, modelID string, q timeutil.RangeQuery) (DailyCostsResponse, error) {
	r, err := s.resolve(q)
	if err != nil {
		return DailyCostsResponse{}, err
	}
	rows, err := s.listRows(ctx, userID, modelID, r)
	if err != nil {
		return DailyCostsResponse{}, err
	}
	return DailyCostsResponse{Range: rangeInfo(r), Days: BuildDailyRollup(rows, r)}, nil
}

// ModelsDaily returns the stacked per-model series for charting.
func (s *Service) ModelsDaily(ctx context.Context, userID string, q timeutil.RangeQuery, topN int) (ModelsDailyResponse, error) {
	r, err := s.resolve(q)
	if err != nil {
		return ModelsDailyResponse{}, err
	}
	rows, err := s.listRows(ctx, userID, "", r)
	if err != nil {
		return ModelsDailyResponse{}, err
	}
	topN = ClampTopModels(topN)
	return ModelsDailyResponse{
		Range:     rangeInfo(r),
		TopModels: topN,
		SingleDay: r.Start.Equal(r.End),
		Series:    BuildDailyStackedSeries(rows, r, topN),
	}, nil
}

// Generation returns the usage details of one assistant message.
func (s *Service) Generation(ctx context.Context, userID, messageID string) (Row, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return Row{}, ErrNotFound
	}
	key := userID + ":" + messageID
	if s.generations != nil {
		if row, ok := s.generations.Get(key); ok {
			return row, nil
		}
	}
	row, err := s.store.GetUsageRow(ctx, userID, messageID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Row{}, err
		}
		return Row{}, fmt.Errorf("get usage row: %w", err)
	}
	row = normalizeRow(row)
	if s.generations != nil {
		s.generations.Add(key, row)
	}
	return row, nil
}

// AdminUsage merges authenticated and anonymous daily usage over the range.
func (s *Service) AdminUsage(ctx context.Context, q timeutil.RangeQuery) (AdminUsageResponse, error) {
	r, err := s.resolve(q)
	if err != nil {
		return AdminUsageResponse{}, err
	}

	cacheKey := fmt.Sprintf("admin-usage:%s:%s", r.StartDate(), r.EndDate())
	if s.responses != nil {
		if data, ok := s.responses.Get(ctx, cacheKey); ok {
			var cached AdminUsageResponse
			if err := json.Unmarshal(data, &cached); err == nil {
				cached.Range.Key = r.Key
				return cached, nil
			}
		}
	}

	start, end := r.Window().Bounds()
	var (
		authRows []AuthDailyRow
		anonRows []AnonDailyRow
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.store.ListAuthDailyRows(gctx, start, end)
		if err != nil {
			return fmt.Errorf("list authenticated daily usage: %w", err)
		}
		authRows = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.store.ListAnonDailyRows(gctx, start, end)
		if err != nil {
			return fmt.Errorf("list anonymous daily usage: %w", err)
		}
		anonRows = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		return AdminUsageResponse{}, err
	}

	resp := AdminUsageResponse{
		Range:        rangeInfo(r),
		MergedSeries: DensifyMerged(MergeDailySeries(authRows, anonRows), r),
	}
	if s.responses != nil {
		if data, err := json.Marshal(resp); err != nil {
			s.logger.Warn("admin usage cache encode failed", slog.String("error", err.Error()))
		} else {
			s.responses.Set(ctx, cacheKey, data)
		}
	}
	return resp, nil
}

// ExportAdminUsage writes the merged admin series as CSV to the report archive.
func (s *Service) ExportAdminUsage(ctx context.Context, q timeutil.RangeQuery) (ExportResult, error) {
	if s.archive == nil {
		return ExportResult{}, ErrArchiveUnavailable
	}
	resp, err := s.AdminUsage(ctx, q)
	if err != nil {
		return ExportResult{}, err
	}
	data, err := encodeAdminCSV(resp.MergedSeries)
	if err != nil {
		return ExportResult{}, fmt.Errorf("encode admin usage csv: %w", err)
	}
	key := fmt.Sprintf("admin-usage/%s_%s_%d.csv", resp.Range.Start, resp.Range.End, s.now().UTC().Unix())
	info, err := s.archive.Put(ctx, key, bytes.NewReader(data), reports.PutOptions{
		ContentType: "text/csv",
		Metadata:    map[string]string{"range": resp.Range.Key},
	})
	if err != nil {
		return ExportResult{}, fmt.Errorf("store admin usage export: %w", err)
	}
	return ExportResult{
		Key:   info.Key,
		Range: resp.Range,
		Days:  len(resp.Authenticated),
		Bytes: int64(len(data)),
	}, nil
}

var adminCSVHeader = []string{
	"date",
	"active_users",
	"authenticated_messages",
	"authenticated_tokens",
	"active_sessions",
	"anonymous_messages",
	"anonymous_tokens",
}

func encodeAdminCSV(series MergedSeries) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(adminCSVHeader); err != nil {
		return nil, err
	}
	for i, auth := range series.Authenticated {
		var anon AnonDayPoint
		if i < len(series.Anonymous) {
			anon = series.Anonymous[i]
		}
		record := []string{
			auth.Date,
			strconv.Itoa(auth.ActiveUsers),
			strconv.FormatInt(auth.Messages, 10),
			strconv.FormatInt(auth.Tokens, 10),
			strconv.Itoa(anon.ActiveSessions),
			strconv.FormatInt(anon.Messages, 10),
			strconv.FormatInt(anon.Tokens, 10),
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
