// Command seed populates the database with fake profiles, logs, follows,
// and engagement so the feed has something to rank during development.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/worklogapp/feed-platform/internal/store"
	"github.com/worklogapp/feed-platform/pkg/config"
	"github.com/worklogapp/feed-platform/pkg/logger"
	"github.com/worklogapp/feed-platform/pkg/postgres"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	numUsers := flag.Int("users", 25, "number of profiles to create")
	logsPerUser := flag.Int("logs", 12, "number of logs per profile")
	days := flag.Int("days", 14, "spread created_at over this many trailing days")
	seed := flag.Int64("seed", 0, "random seed (0 uses the current time)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, "text")

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	gofakeit.Seed(*seed)
	rng := rand.New(rand.NewSource(*seed))

	pgClient, err := postgres.New(cfg.Postgres)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to postgres: %v\n", err)
		os.Exit(1)
	}
	defer pgClient.Close()

	st := store.NewPostgres(pgClient)
	ctx := context.Background()
	now := time.Now().UTC()

	userIDs := make([]string, 0, *numUsers)
	for i := 0; i < *numUsers; i++ {
		id := uuid.NewString()
		_, err := st.Insert(ctx, store.CollectionProfiles, profileRow(id, now.AddDate(0, 0, -rng.Intn(365))))
		if err != nil {
			fmt.Fprintf(os.Stderr, "profile insert failed: %v\n", err)
			os.Exit(1)
		}
		userIDs = append(userIDs, id)
	}
	fmt.Printf("created %d profiles\n", len(userIDs))

	// Each user follows roughly a third of the others.
	follows := 0
	for _, follower := range userIDs {
		for _, followed := range userIDs {
			if follower == followed || rng.Float64() > 0.33 {
				continue
			}
			_, err := st.Insert(ctx, store.CollectionFollows, store.Row{
				"id":           uuid.NewString(),
				"follower_id":  follower,
				"following_id": followed,
				"created_at":   now.AddDate(0, 0, -rng.Intn(90)),
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "follow insert failed: %v\n", err)
				os.Exit(1)
			}
			follows++
		}
	}
	fmt.Printf("created %d follows\n", follows)

	logIDs := make([]string, 0, *numUsers**logsPerUser)
	logAuthors := make(map[string]string, *numUsers**logsPerUser)
	window := time.Duration(*days) * 24 * time.Hour
	for _, author := range userIDs {
		for i := 0; i < *logsPerUser; i++ {
			id := uuid.NewString()
			createdAt := now.Add(-time.Duration(rng.Int63n(int64(window))))
			row := store.Row{
				"id":         id,
				"user_id":    author,
				"content":    gofakeit.Sentence(rng.Intn(20) + 5),
				"created_at": createdAt,
				"updated_at": createdAt,
			}
			if rng.Float64() < 0.2 {
				row["image_url"] = gofakeit.ImageURL(640, 480)
			}
			if _, err := st.Insert(ctx, store.CollectionLogs, row); err != nil {
				fmt.Fprintf(os.Stderr, "log insert failed: %v\n", err)
				os.Exit(1)
			}
			logIDs = append(logIDs, id)
			logAuthors[id] = author
		}
	}
	fmt.Printf("created %d logs\n", len(logIDs))

	likes, comments, relogs := 0, 0, 0
	for _, logID := range logIDs {
		for _, user := range userIDs {
			if user == logAuthors[logID] {
				continue
			}
			at := now.Add(-time.Duration(rng.Int63n(int64(window))))
			if rng.Float64() < 0.15 {
				mustInsert(ctx, st, store.CollectionLikes, store.Row{
					"id":         uuid.NewString(),
					"user_id":    user,
					"log_id":     logID,
					"created_at": at,
				})
				likes++
			}
			if rng.Float64() < 0.05 {
				mustInsert(ctx, st, store.CollectionComments, store.Row{
					"id":         uuid.NewString(),
					"user_id":    user,
					"log_id":     logID,
					"content":    gofakeit.HipsterSentence(rng.Intn(8) + 3),
					"created_at": at,
				})
				comments++
			}
			if rng.Float64() < 0.03 {
				mustInsert(ctx, st, store.CollectionRelogs, store.Row{
					"id":         uuid.NewString(),
					"user_id":    user,
					"log_id":     logID,
					"created_at": at,
				})
				relogs++
			}
		}
	}
	fmt.Printf("created %d likes, %d comments, %d relogs\n", likes, comments, relogs)
}

// profileRow builds a profile record for userID. Feed assembly joins authors
// on user_id, so the row carries it alongside the row id.
func profileRow(userID string, createdAt time.Time) store.Row {
	return store.Row{
		"id":           uuid.NewString(),
		"user_id":      userID,
		"username":     gofakeit.Username(),
		"display_name": gofakeit.Name(),
		"avatar_url":   gofakeit.ImageURL(128, 128),
		"bio":          gofakeit.JobTitle(),
		"created_at":   createdAt,
	}
}

func mustInsert(ctx context.Context, st store.Store, collection string, row store.Row) {
	if _, err := st.Insert(ctx, collection, row); err != nil {
		fmt.Fprintf(os.Stderr, "%s insert failed: %v\n", collection, err)
		os.Exit(1)
	}
}
