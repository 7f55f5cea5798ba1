package main

import (
	"context"
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"
	decimal "github.com/shopspring/decimal"

	"github.com/ncecere/open_chat_usage/internal/auth"
	"github.com/ncecere/open_chat_usage/internal/config"
	"github.com/ncecere/open_chat_usage/internal/database"
	usageservice "github.com/ncecere/open_chat_usage/internal/services/usage"
	"github.com/ncecere/open_chat_usage/internal/store/postgres"
)

type seedModel struct {
	id               string
	promptPerMillion decimal.Decimal
	outputPerMillion decimal.Decimal
}

var seedModels = []seedModel{
	{"gpt-4o", decimal.RequireFromString("2.5"), decimal.RequireFromString("10")},
	{"gpt-4o-mini", decimal.RequireFromString("0.15"), decimal.RequireFromString("0.6")},
	{"claude-sonnet", decimal.RequireFromString("3"), decimal.RequireFromString("15")},
	{"gemini-flash", decimal.RequireFromString("0.1"), decimal.RequireFromString("0.4")},
	{"", decimal.Zero, decimal.Zero},
}

var million = decimal.NewFromInt(1_000_000)

func main() {
	configFile := flag.String("config", "", "path to usaged config file")
	users := flag.Int("users", 5, "number of signed-in users")
	sessions := flag.Int("sessions", 10, "number of anonymous sessions")
	days := flag.Int("days", 30, "days of history ending today")
	perDay := flag.Int("messages", 20, "messages per day")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	store := postgres.New(pool)
	rng := rand.New(rand.NewSource(*seed))
	today := time.Now().UTC().Truncate(24 * time.Hour)

	userIDs := make([]string, *users)
	for i := range userIDs {
		userIDs[i] = uuid.NewString()
	}
	sessionHashes := make([]string, *sessions)
	for i := range sessionHashes {
		sessionHashes[i] = auth.Fingerprint(uuid.NewString())
	}

	var recorded, anonymous int
	for d := *days - 1; d >= 0; d-- {
		day := today.AddDate(0, 0, -d)
		for i := 0; i < *perDay; i++ {
			ts := day.Add(time.Duration(rng.Int63n(int64(24 * time.Hour))))
			if len(sessionHashes) > 0 && rng.Intn(4) == 0 {
				hash := sessionHashes[rng.Intn(len(sessionHashes))]
				if err := store.RecordAnonymousUsage(ctx, day, hash, int64(100+rng.Intn(900))); err != nil {
					log.Fatalf("record anonymous usage: %v", err)
				}
				anonymous++
				continue
			}
			if len(userIDs) == 0 {
				continue
			}
			row := randomRow(rng, userIDs[rng.Intn(len(userIDs))], ts)
			if err := store.RecordMessageUsage(ctx, row); err != nil {
				log.Fatalf("record message %s: %v", row.MessageID, err)
			}
			recorded++
		}
	}
	log.Printf("seeded %d messages and %d anonymous messages over %d days", recorded, anonymous, *days)
}

func randomRow(rng *rand.Rand, userID string, ts time.Time) usageservice.Row {
	model := seedModels[rng.Intn(len(seedModels))]
	prompt := int64(50 + rng.Intn(2000))
	completion := int64(20 + rng.Intn(1500))
	promptCost := usageservice.Round6(decimal.NewFromInt(prompt).Mul(model.promptPerMillion).Div(million))
	completionCost := usageservice.Round6(decimal.NewFromInt(completion).Mul(model.outputPerMillion).Div(million))
	return usageservice.Row{
		MessageID:        uuid.NewString(),
		UserID:           userID,
		ModelID:          model.id,
		Timestamp:        ts,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
		PromptCost:       promptCost,
		CompletionCost:   completionCost,
		TotalCost:        promptCost.Add(completionCost),
	}
}
