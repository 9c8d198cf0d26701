package main

import (
	"context"
	"log"
	"os"

	"github.com/onebullex/risk-engine/internal/aiagent"
	"github.com/onebullex/risk-engine/internal/api"
	"github.com/onebullex/risk-engine/internal/cascade"
	"github.com/onebullex/risk-engine/internal/db"
	"github.com/onebullex/risk-engine/internal/enrichment"
	"github.com/onebullex/risk-engine/internal/features"
	"github.com/onebullex/risk-engine/internal/ingress"
	"github.com/onebullex/risk-engine/internal/liststore"
	"github.com/onebullex/risk-engine/internal/rules"
	"github.com/onebullex/risk-engine/internal/verdictsink"
)

func main() {
	log.Println("Starting OneBullEx Withdrawal Risk Engine...")

	// ─── Required Environment Variables ─────────────────────────────────
	// All credentials MUST come from environment variables. No fallback
	// defaults for security-sensitive values. Use a .env file for local
	// development: cp .env.example .env && edit .env
	// ────────────────────────────────────────────────────────────────────

	dbURL := requireEnv("DATABASE_URL")

	dbConn, err := db.Connect(dbURL)
	if err != nil {
		log.Fatalf("FATAL: failed to connect to PostgreSQL: %v", err)
	}
	defer dbConn.Close()
	if err := dbConn.InitSchema(); err != nil {
		log.Printf("Warning: DB schema init failed: %v", err)
	}

	wsHub := api.NewHub()
	go wsHub.Run()

	lists := liststore.New(dbConn)
	sanctions := enrichment.NewSanctionsClient(requireEnv("SANCTIONS_API_URL"), os.Getenv("SANCTIONS_API_KEY"))
	age := enrichment.NewDestinationAgeClient(requireEnv("BLOCK_EXPLORER_API_URL"), os.Getenv("BLOCK_EXPLORER_API_KEY"))

	ruleCache := rules.NewCache(dbConn)

	ctx := context.Background()
	aiClient, err := aiagent.NewClient(ctx, os.Getenv("GEMINI_API_KEY"), getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"))
	if err != nil {
		log.Fatalf("FATAL: failed to initialize AI agent client: %v", err)
	}
	defer aiClient.Close()

	sink := verdictsink.New(dbConn, os.Getenv("CHAT_WEBHOOK_URL"), wsHub)

	c := &cascade.Cascade{
		Lists:     lists,
		Sanctions: sanctions,
		Age:       age,
		Rules:     ruleCache,
		AI:        aiClient,
		Sink:      sink,
		DB:        dbConn,
	}

	fetcher := features.New(dbConn)
	handler := ingress.NewHandler(fetcher, c)

	r := api.SetupRouter(handler, wsHub)

	port := getEnvOrDefault("PORT", "8080")
	log.Printf("Risk engine listening on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func requireEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set. "+
			"Copy .env.example to .env and fill in your values: cp .env.example .env", key)
	}
	return val
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
