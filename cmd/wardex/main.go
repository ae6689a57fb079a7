package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Kweiss/Wardex/internal/api"
	"github.com/Kweiss/Wardex/internal/db"
	"github.com/Kweiss/Wardex/internal/providers"
	"github.com/Kweiss/Wardex/internal/shield"
	"github.com/Kweiss/Wardex/pkg/models"
)

func main() {
	log.Println("Starting Wardex security mediator...")
	log.Println("Initializing evaluation pipeline...")

	dbURL := os.Getenv("DATABASE_URL")
	var dbConn *db.PostgresStore
	if dbURL == "" {
		log.Println("Warning: DATABASE_URL not set, continuing without audit persistence")
	} else {
		conn, err := db.Connect(dbURL)
		if err != nil {
			log.Printf("Warning: Failed to connect to PostgreSQL, continuing without persisting audit data. Error: %v", err)
		} else {
			dbConn = conn
			defer dbConn.Close()
			if err := dbConn.InitSchema(); err != nil {
				log.Printf("Warning: DB schema init failed: %v", err)
			}
		}
	}

	addressProvider, contractProvider := buildProviders()

	wsHub := api.NewHub()
	go wsHub.Run()

	alerts := api.NewAlertManager(func(a api.Alert) {
		if payload, err := json.Marshal(a); err == nil {
			wsHub.BroadcastVerdict(payload)
		}
	})
	registerWebhooksFromEnv(alerts)

	shld := shield.New(shield.Config{
		Policy:           defaultPolicy(),
		AddressProvider:  addressProvider,
		ContractProvider: contractProvider,
		AuditCapacity:    1000,
		OnVerdict: func(entry models.AuditEntry) {
			if dbConn != nil {
				if err := dbConn.SaveAuditEntry(context.Background(), entry); err != nil {
					log.Printf("Warning: failed to persist audit entry %s: %v", entry.EvaluationID, err)
				}
			}
		},
	})

	r := api.SetupRouter(shld, dbConn, wsHub, alerts)

	port := getEnvOrDefault("PORT", "5339")

	log.Printf("Wardex running on :%s\n", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// buildProviders wires AddressReputationProvider/ContractAnalysisProvider
// per spec.md §9's capability-interface requirement: live (ethclient-
// backed, if ETH_RPC_URL is set) wrapped in a TTL cache, or a stub when
// no RPC endpoint is configured.
func buildProviders() (providers.AddressReputationProvider, providers.ContractAnalysisProvider) {
	rpcURL := os.Getenv("ETH_RPC_URL")
	if rpcURL == "" {
		log.Println("Warning: ETH_RPC_URL not set, running with stub reputation/contract providers")
		return &providers.StubAddressReputationProvider{}, &providers.StubContractAnalysisProvider{}
	}

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		log.Printf("Warning: Failed to dial ETH_RPC_URL, falling back to stub providers: %v", err)
		return &providers.StubAddressReputationProvider{}, &providers.StubContractAnalysisProvider{}
	}

	ttl := 5 * time.Minute
	contractProvider := providers.NewCachedContractAnalysisProvider(providers.NewLiveContractAnalysisProvider(client), ttl)
	// No block-explorer client is wired in this deployment (spec.md §1
	// treats it as an external collaborator out of core scope), so
	// reputation stays on the stub until one is supplied.
	return &providers.StubAddressReputationProvider{}, contractProvider
}

// defaultPolicy is the conservative starting posture a fresh Wardex
// deployment boots with until an operator calls PUT /api/v1/policy.
func defaultPolicy() models.SecurityPolicy {
	return models.SecurityPolicy{
		Version: 1,
		Tiers: []models.SecurityTierConfig{
			{
				ID:                    "default",
				Name:                  "Default Guardian",
				Mode:                  models.ModeGuardian,
				BlockThreshold:        75,
				HumanApprovalRequired: true,
			},
		},
		Limits: models.GlobalLimits{},
		Behavioral: models.BehavioralConfig{
			Enabled:            true,
			LearningWindowDays: 14,
			Sensitivity:        models.SensitivityMedium,
		},
		ContextCfg: models.ContextAnalysisConfig{
			Enabled:         true,
			CheckCoherence:  true,
			CheckEscalation: true,
		},
		ValueCfg: models.ValueAssessorConfig{
			NativeUsdPrice:           getEnvFloatOrDefault("NATIVE_USD_PRICE", 3000),
			InfiniteApprovalClampUsd: 1_000_000,
		},
	}
}

// registerWebhooksFromEnv reads WARDEX_WEBHOOK_URL (and an optional
// WARDEX_WEBHOOK_MIN_SEVERITY, default "high") to wire an operator's
// Slack/Discord/PagerDuty endpoint without a config file, matching the
// teacher's env-var-only configuration stance.
func registerWebhooksFromEnv(alerts *api.AlertManager) {
	url := os.Getenv("WARDEX_WEBHOOK_URL")
	if url == "" {
		return
	}
	minSeverity := models.Severity(getEnvOrDefault("WARDEX_WEBHOOK_MIN_SEVERITY", "high"))
	alerts.RegisterWebhook("operator", url, minSeverity, nil)
	log.Printf("Registered operator webhook (min severity: %s)", minSeverity)
}

// getEnvOrDefault returns the env var value or a safe default for
// non-secret settings.
func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvFloatOrDefault(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
