package usage

import (
	"strings"
	"time"

	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/open_chat_usage/internal/timeutil"
)

// UnknownModel labels rows whose model id is missing.
const UnknownModel = "unknown"

// Row is the per-message usage record written once per assistant response.
type Row struct {
	MessageID        string          `json:"message_id"`
	UserID           string          `json:"user_id,omitempty"`
	ModelID          string          `json:"model_id"`
	Timestamp        time.Time       `json:"created_at"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	TotalTokens      int64           `json:"total_tokens"`
	PromptCost       decimal.Decimal `json:"prompt_cost"`
	CompletionCost   decimal.Decimal `json:"completion_cost"`
	TotalCost        decimal.Decimal `json:"total_cost"`
}

// Day returns the UTC calendar day the row belongs to.
func (r Row) Day() string { return timeutil.DayKey(r.Timestamp) }

func normalizeModelID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return UnknownModel
	}
	return id
}

func normalizeRow(r Row) Row {
	r.ModelID = normalizeModelID(r.ModelID)
	r.Timestamp = r.Timestamp.UTC()
	r.PromptCost = Round6(r.PromptCost)
	r.CompletionCost = Round6(r.CompletionCost)
	r.TotalCost = Round6(r.TotalCost)
	return r
}

// ModelTotal is the pre-aggregated usage of one model over a range.
type ModelTotal struct {
	ModelID     string
	TotalTokens int64
	TotalCost   decimal.Decimal
}

// ModelUsage is one model's summed usage over a filtered range.
type ModelUsage struct {
	ModelID          string
	Messages         int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	PromptCost       decimal.Decimal
	CompletionCost   decimal.Decimal
	TotalCost        decimal.Decimal
}

// ModelAggregate is a model's totals plus its share of the whole range.
type ModelAggregate struct {
	ModelID     string          `json:"model_id"`
	TotalTokens int64           `json:"total_tokens"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	ShareTokens float64         `json:"share_tokens"`
	ShareCost   float64         `json:"share_cost"`
}

// TopModels holds the two independently ranked top-N lists.
type TopModels struct {
	ByTokens []ModelAggregate `json:"by_tokens"`
	ByCost   []ModelAggregate `json:"by_cost"`
}

// DayBucket is one stacked-chart row. Total always equals Others plus every segment.
type DayBucket struct {
	Date     string                     `json:"date"`
	Segments map[string]decimal.Decimal `json:"segments"`
	Others   decimal.Decimal            `json:"others"`
	Total    decimal.Decimal            `json:"total"`
}

// SeriesView is the stacked series for one metric.
type SeriesView struct {
	Models []string    `json:"models"`
	Days   []DayBucket `json:"days"`
}

// StackedSeries carries the tokens and cost views side by side.
type StackedSeries struct {
	Tokens SeriesView `json:"tokens"`
	Cost   SeriesView `json:"cost"`
}

// Pagination describes an offset page of a report.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// CostSummary totals every row of a report, not just the current page.
type CostSummary struct {
	Messages         int64           `json:"messages"`
	PromptTokens     int64           `json:"prompt_tokens"`
	CompletionTokens int64           `json:"completion_tokens"`
	TotalTokens      int64           `json:"total_tokens"`
	PromptCost       decimal.Decimal `json:"prompt_cost"`
	CompletionCost   decimal.Decimal `json:"completion_cost"`
	TotalCost        decimal.Decimal `json:"total_cost"`
}

// CostReport is a page of usage rows with whole-range summary.
type CostReport struct {
	Items      []Row       `json:"items"`
	Pagination Pagination  `json:"pagination"`
	Summary    CostSummary `json:"summary"`
	TopModels  TopModels   `json:"top_models"`
}

// DailyTotal is one day of the non-stacked daily rollup.
type DailyTotal struct {
	Date        string          `json:"date"`
	Messages    int64           `json:"messages"`
	TotalTokens int64           `json:"total_tokens"`
	TotalCost   decimal.Decimal `json:"total_cost"`
}

// AuthDailyRow is a pre-aggregated daily usage row for a signed-in user.
type AuthDailyRow struct {
	Day      time.Time
	UserID   string
	Messages int64
	Tokens   int64
}

// AnonDailyRow is a pre-aggregated daily usage row for an anonymous session.
type AnonDailyRow struct {
	Day         time.Time
	SessionHash string
	Messages    int64
	Tokens      int64
}

// AuthDayPoint is one day of the authenticated series.
type AuthDayPoint struct {
	Date        string `json:"date"`
	ActiveUsers int    `json:"active_users"`
	Messages    int64  `json:"messages"`
	Tokens      int64  `json:"tokens"`
}

// AnonDayPoint is one day of the anonymous series.
type AnonDayPoint struct {
	Date           string `json:"date"`
	ActiveSessions int    `json:"active_sessions"`
	Messages       int64  `json:"messages"`
	Tokens         int64  `json:"tokens"`
}

// RollupTotals are range-wide figures; distinct counts are over the whole range.
type RollupTotals struct {
	DistinctUsers    int   `json:"distinct_users"`
	DistinctSessions int   `json:"distinct_sessions"`
	AuthMessages     int64 `json:"authenticated_messages"`
	AnonMessages     int64 `json:"anonymous_messages"`
	AuthTokens       int64 `json:"authenticated_tokens"`
	AnonTokens       int64 `json:"anonymous_tokens"`
}

// MergedSeries aligns the authenticated and anonymous series on one day axis.
type MergedSeries struct {
	Authenticated []AuthDayPoint `json:"authenticated"`
	Anonymous     []AnonDayPoint `json:"anonymous"`
	Totals        RollupTotals   `json:"totals"`
}
