package usage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	decimal "github.com/shopspring/decimal"
)

var ErrInvalidPagination = errors.New("invalid pagination")

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// ParsePagination reads page/page_size query values. Empty values take the
// defaults, numeric values are clamped, anything else is rejected.
func ParsePagination(pageRaw, sizeRaw string) (int, int, error) {
	page := 1
	if v := strings.TrimSpace(pageRaw); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: page must be an integer", ErrInvalidPagination)
		}
		page = n
	}
	size := DefaultPageSize
	if v := strings.TrimSpace(sizeRaw); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: page_size must be an integer", ErrInvalidPagination)
		}
		size = n
	}
	page, size = clampPage(page, size)
	return page, size, nil
}

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case size < 1:
		size = 1
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return page, size
}

// paginate resolves page bounds over total rows. ok is false when the page
// lies past the last one; offset is only meaningful when ok is true.
func paginate(total, page, pageSize int) (p Pagination, offset int, ok bool) {
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	page, pageSize = clampPage(page, pageSize)
	if total < 0 {
		total = 0
	}
	p = Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
	// page is unbounded, so compare before multiplying.
	if page > p.TotalPages {
		return p, 0, false
	}
	return p, (page - 1) * pageSize, true
}

// BuildPagedCostReport slices rows into an offset page. The summary always
// covers every row. A page past the end yields empty items.
func BuildPagedCostReport(rows []Row, page, pageSize int) CostReport {
	p, offset, ok := paginate(len(rows), page, pageSize)
	var pageRows []Row
	if ok {
		end := offset + p.PageSize
		if end > len(rows) {
			end = len(rows)
		}
		pageRows = rows[offset:end]
	}
	return newCostReport(pageRows, p, SummarizeRows(rows))
}

func newCostReport(pageRows []Row, p Pagination, models []ModelUsage) CostReport {
	items := make([]Row, 0, len(pageRows))
	for _, row := range pageRows {
		items = append(items, normalizeRow(row))
	}
	summary, totals := summarize(models)
	return CostReport{
		Items:      items,
		Pagination: p,
		Summary:    summary,
		TopModels:  BuildTopModels(totals, DefaultTopModels),
	}
}

// SummarizeRows groups rows per model, matching what Store.SummarizeUsage
// returns for the same rows.
func SummarizeRows(rows []Row) []ModelUsage {
	index := make(map[string]int)
	out := make([]ModelUsage, 0)
	for _, row := range rows {
		id := normalizeModelID(row.ModelID)
		pos, ok := index[id]
		if !ok {
			pos = len(out)
			index[id] = pos
			out = append(out, ModelUsage{ModelID: id})
		}
		m := &out[pos]
		m.Messages++
		m.PromptTokens += row.PromptTokens
		m.CompletionTokens += row.CompletionTokens
		m.TotalTokens += row.TotalTokens
		m.PromptCost = m.PromptCost.Add(Round6(row.PromptCost))
		m.CompletionCost = m.CompletionCost.Add(Round6(row.CompletionCost))
		m.TotalCost = m.TotalCost.Add(Round6(row.TotalCost))
	}
	return out
}

func summarize(models []ModelUsage) (CostSummary, []ModelTotal) {
	summary := CostSummary{
		PromptCost:     decimal.Zero,
		CompletionCost: decimal.Zero,
		TotalCost:      decimal.Zero,
	}
	totals := make([]ModelTotal, 0, len(models))
	for _, m := range models {
		summary.Messages += m.Messages
		summary.PromptTokens += m.PromptTokens
		summary.CompletionTokens += m.CompletionTokens
		summary.TotalTokens += m.TotalTokens
		summary.PromptCost = summary.PromptCost.Add(Round6(m.PromptCost))
		summary.CompletionCost = summary.CompletionCost.Add(Round6(m.CompletionCost))
		summary.TotalCost = summary.TotalCost.Add(Round6(m.TotalCost))
		totals = append(totals, ModelTotal{ModelID: m.ModelID, TotalTokens: m.TotalTokens, TotalCost: m.TotalCost})
	}
	return summary, totals
}
