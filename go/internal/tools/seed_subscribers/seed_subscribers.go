package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/mcdev12/newsletter/go/internal/dbconfig"
	"github.com/mcdev12/newsletter/go/internal/models"
)

// Subscriber mirrors the JSON layout of the seed file
type Subscriber struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// execer is the part of pgxpool.Pool the file seeder uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const upsertSubscriberQuery = `
INSERT INTO subscriptions (id, email, name, subscribed_at, status)
VALUES ($1, $2, $3, now(), $4)
ON CONFLICT (email) DO NOTHING`

func main() {
	file := flag.String("file", "", "JSON file of subscribers to upsert")
	generate := flag.Int("generate", 0, "bulk-load this many synthetic confirmed subscribers")
	flag.Parse()

	if *file == "" && *generate <= 0 {
		fmt.Fprintln(os.Stderr, "usage: seed_subscribers -file subscribers.json | -generate N")
		os.Exit(2)
	}

	_ = godotenv.Load()
	ctx := context.Background()

	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if *file != "" {
		if err := seedFromFile(ctx, pool, *file, os.Stdout, os.Stderr); err != nil {
			fmt.Fprintf(os.Stderr, "seed from file: %v\n", err)
			os.Exit(1)
		}
	}
	if *generate > 0 {
		if err := seedGenerated(ctx, pool, *generate); err != nil {
			fmt.Fprintf(os.Stderr, "generate subscribers: %v\n", err)
			os.Exit(1)
		}
	}
}

// seedFromFile upserts every subscriber in path. Rows that fail are reported on errOut
// and counted; they do not stop the run.
func seedFromFile(ctx context.Context, db execer, path string, out, errOut io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var subscribers []Subscriber
	if err := json.Unmarshal(data, &subscribers); err != nil {
		return fmt.Errorf("unmarshal subscribers: %w", err)
	}

	total, inserted, skipped, errs := len(subscribers), 0, 0, 0
	for _, s := range subscribers {
		status := s.Status
		if status == "" {
			status = string(models.SubscriptionConfirmed)
		}
		tag, err := db.Exec(ctx, upsertSubscriberQuery, uuid.New(), s.Email, s.Name, status)
		if err != nil {
			errs++
			fmt.Fprintf(errOut, "insert %s: %v\n", s.Email, err)
			continue
		}
		if tag.RowsAffected() == 1 {
			inserted++
		} else {
			skipped++
		}
	}
	fmt.Fprintf(out, "Subscribers seed: total=%d inserted=%d skipped=%d errors=%d\n", total, inserted, skipped, errs)
	return nil
}

// seedGenerated uses COPY, so every generated email is unique to this run.
func seedGenerated(ctx context.Context, pool *pgxpool.Pool, n int) error {
	run := uuid.NewString()[:8]
	now := time.Now()

	rows := make([][]any, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, []any{
			uuid.New(),
			fmt.Sprintf("reader-%s-%d@example.com", run, i),
			fmt.Sprintf("Reader %d", i),
			now,
			string(models.SubscriptionConfirmed),
		})
	}

	copied, err := pool.CopyFrom(ctx,
		pgx.Identifier{"subscriptions"},
		[]string{"id", "email", "name", "subscribed_at", "status"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy subscribers: %w", err)
	}
	fmt.Printf("Subscribers generated: %d\n", copied)
	return nil
}
