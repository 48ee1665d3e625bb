// Command runpodkey stores the RunPod API key in the credentials table so
// api and worker processes can pick it up without a redeploy.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokeshdeshmukh/face-swap-ai/internal/infra/credentials"
)

func main() {
	var keyFlag string
	flag.StringVar(&keyFlag, "key", "", "RunPod API key (falls back to RUNPOD_API_KEY)")
	flag.Parse()

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv("RUNPOD_API_KEY"))
	}
	if key == "" {
		fmt.Fprintln(os.Stderr, "RunPod API key is required via -key or RUNPOD_API_KEY")
		os.Exit(1)
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := credentials.NewStore(pool)

	ctxExec, cancelExec := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelExec()
	if err := store.EnsureSchema(ctxExec); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ensure credentials schema: %v\n", err)
		os.Exit(1)
	}
	if err := store.SetRunPodAPIKey(ctxExec, key); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist RunPod api key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("RunPod API key stored successfully")
}
