package usage

import (
	"sort"
	"strings"

	"github.com/samber/lo"

	"github.com/ncecere/open_chat_usage/internal/timeutil"
)

type authDay struct {
	users    map[string]struct{}
	messages int64
	tokens   int64
}

type anonDay struct {
	sessions map[string]struct{}
	messages int64
	tokens   int64
}

// MergeDailySeries aligns authenticated and anonymous daily rows on the union
// of their days. Active counts are distinct identifiers per day.
func MergeDailySeries(authRows []AuthDailyRow, anonRows []AnonDailyRow) MergedSeries {
	auth := make(map[string]*authDay)
	anon := make(map[string]*anonDay)
	allUsers := make(map[string]struct{})
	allSessions := make(map[string]struct{})
	var totals RollupTotals

	for _, row := range authRows {
		key := timeutil.DayKey(row.Day)
		day, ok := auth[key]
		if !ok {
			day = &authDay{users: make(map[string]struct{})}
			auth[key] = day
		}
		if id := strings.TrimSpace(row.UserID); id != "" {
			day.users[id] = struct{}{}
			allUsers[id] = struct{}{}
		}
		day.messages += row.Messages
		day.tokens += row.Tokens
		totals.AuthMessages += row.Messages
		totals.AuthTokens += row.Tokens
	}

	for _, row := range anonRows {
		key := timeutil.DayKey(row.Day)
		day, ok := anon[key]
		if !ok {
			day = &anonDay{sessions: make(map[string]struct{})}
			anon[key] = day
		}
		if hash := strings.TrimSpace(row.SessionHash); hash != "" {
			day.sessions[hash] = struct{}{}
			allSessions[hash] = struct{}{}
		}
		day.messages += row.Messages
		day.tokens += row.Tokens
		totals.AnonMessages += row.Messages
		totals.AnonTokens += row.Tokens
	}

	days := lo.Union(lo.Keys(auth), lo.Keys(anon))
	sort.Strings(days)

	out := MergedSeries{
		Authenticated: make([]AuthDayPoint, 0, len(days)),
		Anonymous:     make([]AnonDayPoint, 0, len(days)),
	}
	for _, key := range days {
		authPoint := AuthDayPoint{Date: key}
		if day, ok := auth[key]; ok {
			authPoint.ActiveUsers = len(day.users)
			authPoint.Messages = day.messages
			authPoint.Tokens = day.tokens
		}
		anonPoint := AnonDayPoint{Date: key}
		if day, ok := anon[key]; ok {
			anonPoint.ActiveSessions = len(day.sessions)
			anonPoint.Messages = day.messages
			anonPoint.Tokens = day.tokens
		}
		out.Authenticated = append(out.Authenticated, authPoint)
		out.Anonymous = append(out.Anonymous, anonPoint)
	}

	totals.DistinctUsers = len(allUsers)
	totals.DistinctSessions = len(allSessions)
	out.Totals = totals
	return out
}

// DensifyMerged adds zero points for range days neither series covered.
// Days outside the range are dropped.
func DensifyMerged(series MergedSeries, r timeutil.DateRange) MergedSeries {
	authByDay := lo.KeyBy(series.Authenticated, func(p AuthDayPoint) string { return p.Date })
	anonByDay := lo.KeyBy(series.Anonymous, func(p AnonDayPoint) string { return p.Date })

	days := r.Days()
	out := MergedSeries{
		Authenticated: make([]AuthDayPoint, 0, len(days)),
		Anonymous:     make([]AnonDayPoint, 0, len(days)),
		Totals:        series.Totals,
	}
	for _, day := range days {
		authPoint, ok := authByDay[day]
		if !ok {
			authPoint = AuthDayPoint{Date: day}
		}
		anonPoint, ok := anonByDay[day]
		if !ok {
			anonPoint = AnonDayPoint{Date: day}
		}
		out.Authenticated = append(out.Authenticated, authPoint)
		out.Anonymous = append(out.Anonymous, anonPoint)
	}
	return out
}
