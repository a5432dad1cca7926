package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mathieu-neron/owo-counter/internal/config"
	"github.com/mathieu-neron/owo-counter/internal/middleware"
	"github.com/mathieu-neron/owo-counter/internal/repository"
)

const resetTimeout = 30 * time.Second

// reset wipes all persisted counting state. The bot should be stopped first,
// otherwise its in-memory cache will write channels back on the next count.
func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to reset counting data: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	storage, err := config.LoadStorage()
	if err != nil {
		return err
	}
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	log := middleware.InitLogger(level, "owo-counter-reset", os.Getenv("ENVIRONMENT"))

	ctx, cancel := context.WithTimeout(context.Background(), resetTimeout)
	defer cancel()

	conn, err := repository.Open(ctx, storage.Backend, storage.DatabaseURL, storage.RedisURL, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	channels, entries, err := conn.Repo.Reset(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Removed %d record(s) from counting channels.\n", channels)
	fmt.Printf("Removed %d record(s) from counting leaderboard.\n", entries)
	return nil
}
