package usage

import (
	"sort"

	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/open_chat_usage/internal/timeutil"
)

const (
	// DefaultTopModels is used by summary panels when no explicit N is given.
	DefaultTopModels = 3
	// MaxChartModels caps how many segments a stacked chart carries.
	MaxChartModels = 12

	costPlaces = 6
)

var hundred = decimal.NewFromInt(100)

// Round6 rounds a currency value to six decimal places.
func Round6(v decimal.Decimal) decimal.Decimal {
	return v.Round(costPlaces)
}

// ClampTopModels bounds a chart's top-N to [1, MaxChartModels].
func ClampTopModels(n int) int {
	switch {
	case n < 1:
		return 1
	case n > MaxChartModels:
		return MaxChartModels
	default:
		return n
	}
}

// TotalsByModel groups rows per model, summing tokens and cost.
func TotalsByModel(rows []Row) []ModelTotal {
	index := make(map[string]int)
	totals := make([]ModelTotal, 0)
	for _, row := range rows {
		id := normalizeModelID(row.ModelID)
		pos, ok := index[id]
		if !ok {
			pos = len(totals)
			index[id] = pos
			totals = append(totals, ModelTotal{ModelID: id})
		}
		totals[pos].TotalTokens += row.TotalTokens
		totals[pos].TotalCost = Round6(totals[pos].TotalCost.Add(Round6(row.TotalCost)))
	}
	return totals
}

// BuildTopModels ranks models by tokens and by cost independently. Shares are
// relative to the sum over every model, not only the returned ones.
func BuildTopModels(totals []ModelTotal, topN int) TopModels {
	if topN <= 0 {
		topN = DefaultTopModels
	}

	grouped := make(map[string]*ModelAggregate)
	var sumTokens int64
	sumCost := decimal.Zero
	for _, t := range totals {
		id := normalizeModelID(t.ModelID)
		agg, ok := grouped[id]
		if !ok {
			agg = &ModelAggregate{ModelID: id}
			grouped[id] = agg
		}
		cost := Round6(t.TotalCost)
		agg.TotalTokens += t.TotalTokens
		agg.TotalCost = agg.TotalCost.Add(cost)
		sumTokens += t.TotalTokens
		sumCost = sumCost.Add(cost)
	}

	all := make([]ModelAggregate, 0, len(grouped))
	for _, agg := range grouped {
		agg.ShareTokens = share(decimal.NewFromInt(agg.TotalTokens), decimal.NewFromInt(sumTokens))
		agg.ShareCost = share(agg.TotalCost, sumCost)
		all = append(all, *agg)
	}

	byTokens := append([]ModelAggregate(nil), all...)
	sort.Slice(byTokens, func(i, j int) bool {
		if byTokens[i].TotalTokens != byTokens[j].TotalTokens {
			return byTokens[i].TotalTokens > byTokens[j].TotalTokens
		}
		return byTokens[i].ModelID < byTokens[j].ModelID
	})

	byCost := append([]ModelAggregate(nil), all...)
	sort.Slice(byCost, func(i, j int) bool {
		if c := byCost[i].TotalCost.Cmp(byCost[j].TotalCost); c != 0 {
			return c > 0
		}
		return byCost[i].ModelID < byCost[j].ModelID
	})

	return TopModels{
		ByTokens: truncate(byTokens, topN),
		ByCost:   truncate(byCost, topN),
	}
}

func share(part, total decimal.Decimal) float64 {
	if total.IsZero() {
		return 0
	}
	return part.Div(total).Mul(hundred).Round(2).InexactFloat64()
}

func truncate(list []ModelAggregate, n int) []ModelAggregate {
	if len(list) > n {
		return list[:n]
	}
	return list
}

// BuildDailyStackedSeries produces dense per-day buckets for the tokens and
// cost views. Each view picks its own top-N; everything else lands in Others.
// Rows outside the range are ignored.
func BuildDailyStackedSeries(rows []Row, r timeutil.DateRange, topN int) StackedSeries {
	topN = ClampTopModels(topN)
	inRange := make([]Row, 0, len(rows))
	for _, row := range rows {
		if r.Contains(row.Timestamp) {
			inRange = append(inRange, normalizeRow(row))
		}
	}

	top := BuildTopModels(TotalsByModel(inRange), topN)
	tokenModels := modelIDs(top.ByTokens)
	costModels := modelIDs(top.ByCost)

	tokensView := newSeriesView(r, tokenModels)
	costView := newSeriesView(r, costModels)
	tokenSet := toSet(tokenModels)
	costSet := toSet(costModels)

	dayIndex := make(map[string]int, len(tokensView.Days))
	for i, bucket := range tokensView.Days {
		dayIndex[bucket.Date] = i
	}

	for _, row := range inRange {
		idx, ok := dayIndex[row.Day()]
		if !ok {
			continue
		}
		addToBucket(&tokensView.Days[idx], row.ModelID, decimal.NewFromInt(row.TotalTokens), tokenSet)
		addToBucket(&costView.Days[idx], row.ModelID, row.TotalCost, costSet)
	}

	return StackedSeries{Tokens: tokensView, Cost: costView}
}

func newSeriesView(r timeutil.DateRange, models []string) SeriesView {
	days := r.Days()
	view := SeriesView{Models: models, Days: make([]DayBucket, 0, len(days))}
	for _, day := range days {
		segments := make(map[string]decimal.Decimal, len(models))
		for _, id := range models {
			segments[id] = decimal.Zero
		}
		view.Days = append(view.Days, DayBucket{
			Date:     day,
			Segments: segments,
			Others:   decimal.Zero,
			Total:    decimal.Zero,
		})
	}
	return view
}

func addToBucket(bucket *DayBucket, modelID string, value decimal.Decimal, top map[string]struct{}) {
	if _, ok := top[modelID]; ok {
		bucket.Segments[modelID] = bucket.Segments[modelID].Add(value)
	} else {
		bucket.Others = bucket.Others.Add(value)
	}
	bucket.Total = bucket.Total.Add(value)
}

func modelIDs(list []ModelAggregate) []string {
	ids := make([]string, 0, len(list))
	for _, m := range list {
		ids = append(ids, m.ModelID)
	}
	return ids
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// BuildDailyRollup totals messages, tokens and cost for every day of the range.
func BuildDailyRollup(rows []Row, r timeutil.DateRange) []DailyTotal {
	days := r.Days()
	out := make([]DailyTotal, 0, len(days))
	index := make(map[string]int, len(days))
	for i, day := range days {
		index[day] = i
		out = append(out, DailyTotal{Date: day, TotalCost: decimal.Zero})
	}
	for _, row := range rows {
		if !r.Contains(row.Timestamp) {
			continue
		}
		idx, ok := index[row.Day()]
		if !ok {
			continue
		}
		out[idx].Messages++
		out[idx].TotalTokens += row.TotalTokens
		out[idx].TotalCost = out[idx].TotalCost.Add(Round6(row.TotalCost))
	}
	return out
}
