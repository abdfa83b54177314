// File: cmd/diagnostic/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iyunix/internist-hub/internal/config"
	"github.com/iyunix/internist-hub/internal/database"
	"github.com/iyunix/internist-hub/internal/services/ai"
)

type check struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) (string, error)
}

func main() {
	skipLLM := flag.Bool("skip-llm", false, "do not call the LLM endpoint")
	timeout := flag.Duration("timeout", 30*time.Second, "per-check timeout")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}

	checks := []check{
		{"database", checkDatabase},
		{"redis", checkRedis},
	}
	if !*skipLLM {
		checks = append(checks, check{"llm", checkLLM})
	}

	failed := 0
	for _, c := range checks {
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		detail, err := c.run(ctx, cfg)
		cancel()

		if err != nil {
			failed++
			fmt.Printf("FAIL  %-9s %v\n", c.name, err)
			continue
		}
		fmt.Printf("OK    %-9s %s\n", c.name, detail)
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func checkDatabase(ctx context.Context, cfg *config.Config) (string, error) {
	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return "", err
	}
	defer sqlDB.Close()

	if err := sqlDB.PingContext(ctx); err != nil {
		return "", err
	}
	return cfg.DatabasePath + " migrated", nil
}

func checkRedis(ctx context.Context, cfg *config.Config) (string, error) {
	if cfg.RedisAddr == "" {
		return "not configured, typing status uses the database", nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer client.Close()

	start := time.Now()
	if err := client.Ping(ctx).Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s ping %s", cfg.RedisAddr, time.Since(start).Round(time.Millisecond)), nil
}

func checkLLM(ctx context.Context, cfg *config.Config) (string, error) {
	if !cfg.AssistantEnabled && cfg.LLMAPIKey == "" {
		return "assistant disabled", nil
	}

	aiConfig := ai.DefaultConfig()
	aiConfig.LLMKey = cfg.LLMAPIKey
	aiConfig.LLMBaseURL = cfg.LLMBaseURL
	aiConfig.Model = cfg.LLMModel

	provider, err := ai.NewOpenAIProvider(aiConfig)
	if err != nil {
		return "", err
	}

	chunks := 0
	err = provider.StreamCompletion(ctx, []ai.Message{
		{Role: ai.RoleUser, Content: "Reply with the single word: ready"},
	}, func(string) error {
		chunks++
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s streamed %d chunks", cfg.LLMModel, chunks), nil
}
