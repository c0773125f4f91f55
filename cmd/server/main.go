package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/propertypulse/campaign-engine/internal/analytics"
	"github.com/propertypulse/campaign-engine/internal/api"
	"github.com/propertypulse/campaign-engine/internal/config"
	"github.com/propertypulse/campaign-engine/internal/dispatch"
	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/personalize"
	"github.com/propertypulse/campaign-engine/internal/provider"
	"github.com/propertypulse/campaign-engine/internal/repository/memory"
	"github.com/propertypulse/campaign-engine/internal/repository/postgres"
	"github.com/propertypulse/campaign-engine/internal/service/campaign"
)

func main() {
	log.Println("Starting PropertyPulse Campaign Engine...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	deps, cleanup, err := buildDeps(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}
	defer cleanup()

	an := analytics.NewService(deps.Deliveries, deps.metricsStore, deps.dedup)
	deps.Analytics = an
	svc := campaign.NewService(deps.Deps)

	server := api.NewServer(api.NewHandlers(svc, an, deps.Deliveries))
	addr := fmt.Sprintf("%s:%d", cfg.Server.GetHost(), cfg.Server.Port)

	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil {
			log.Printf("HTTP server stopped: %v", err)
			cancel()
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	log.Println("Shutdown complete")
}

// engineDeps bundles the campaign service dependencies plus the analytics
// collaborators that sit outside campaign.Deps.
type engineDeps struct {
	campaign.Deps
	metricsStore analytics.MetricsStore
	dedup        analytics.Dedup
}

// buildDeps wires repositories and providers. Without DATABASE_URL the
// engine runs fully in memory with log-only providers (demo mode).
func buildDeps(ctx context.Context, cfg *config.Config) (*engineDeps, func(), error) {
	deps := &engineDeps{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("Redis unavailable, using in-process fallbacks: %v", err)
			redisClient = nil
		} else {
			closers = append(closers, func() { redisClient.Close() })
		}
	}
	deps.Redis = redisClient

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, func() { db.Close() })
		if err := postgres.Migrate(ctx, db); err != nil {
			cleanup()
			return nil, nil, err
		}
		log.Println("Connected to Postgres")
		wirePostgres(deps, db)
	} else {
		log.Println("DATABASE_URL not set, running in demo mode (in-memory repositories)")
		wireMemory(deps)
	}

	if redisClient != nil {
		deps.dedup = analytics.NewRedisDedup(redisClient, cfg.Engine.DedupRetention())
	} else if deps.dedup == nil {
		deps.dedup = memory.NewDedupSet()
	}

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Dispatcher = dispatch.New(deps.Deliveries, providers, dispatch.Config{
		MaxAttempts:  cfg.Engine.MaxAttempts,
		BaseBackoff:  cfg.Engine.BaseBackoff(),
		CallTimeout:  cfg.Engine.CallTimeout(),
		PollInterval: cfg.Engine.PollInterval(),
	})

	deps.Renderer = personalize.NewEngine(buildScorer(ctx, cfg))
	deps.Notifier = campaign.NewHub()
	deps.Workers = cfg.Engine.Workers

	return deps, cleanup, nil
}

func wirePostgres(deps *engineDeps, db *sql.DB) {
	deps.Campaigns = postgres.NewCampaignRepo(db)
	deps.Recipients = postgres.NewRecipientRepo(db)
	deps.Deliveries = postgres.NewDeliveryRepo(db)
	deps.Templates = postgres.NewTemplateRepo(db)
	deps.Market = postgres.NewMarketRepo(db)
	deps.metricsStore = postgres.NewMetricsRepo(db)
}

func wireMemory(deps *engineDeps) {
	templates := memory.NewTemplateRepo()
	templates.Put(personalize.Template{
		ID:      "default",
		Subject: "{{ campaign_label }} for {{ first_name | default: 'you' }}",
		Body:    "Hi {{ first_name }}, here is your {{ campaign_label }} digest.",
	})
	deps.Campaigns = memory.NewCampaignRepo()
	deps.Recipients = memory.NewRecipientRepo()
	deps.Deliveries = memory.NewDeliveryRepo()
	deps.Templates = templates
	deps.Market = memory.NewMarketRepo()
	deps.metricsStore = memory.NewMetricsRepo()
	deps.dedup = memory.NewDedupSet()
}

func buildProviders(ctx context.Context, cfg *config.Config) (map[domain.Channel]dispatch.Provider, error) {
	providers := map[domain.Channel]dispatch.Provider{
		domain.ChannelEmail: provider.LogProvider{Channel: "email"},
		domain.ChannelSMS:   provider.LogProvider{Channel: "sms"},
	}
	if cfg.SES.Enabled {
		ses, err := provider.NewSESProvider(ctx, provider.SESSettings{
			Region:    cfg.SES.Region,
			AccessKey: cfg.SES.AccessKey,
			SecretKey: cfg.SES.SecretKey,
			FromEmail: cfg.SES.FromEmail,
			ConfigSet: cfg.SES.ConfigSet,
		})
		if err != nil {
			return nil, fmt.Errorf("ses provider: %w", err)
		}
		providers[domain.ChannelEmail] = ses
		log.Println("SES email provider enabled")
	}
	if cfg.Twilio.Enabled {
		providers[domain.ChannelSMS] = provider.NewTwilioProvider(provider.TwilioSettings{
			AccountSID:  cfg.Twilio.AccountSID,
			AuthToken:   cfg.Twilio.AuthToken,
			FromNumber:  cfg.Twilio.FromNumber,
			CallbackURL: cfg.Twilio.CallbackURL,
		})
		log.Println("Twilio SMS provider enabled")
	}
	return providers, nil
}

func buildScorer(ctx context.Context, cfg *config.Config) personalize.SubjectScorer {
	if !cfg.Bedrock.Enabled {
		return nil
	}
	scorer, err := personalize.NewBedrockScorer(ctx, cfg.Bedrock.Region, cfg.Bedrock.ModelID)
	if err != nil {
		log.Printf("Bedrock scorer unavailable, using heuristics: %v", err)
		return nil
	}
	log.Println("Bedrock subject scorer enabled")
	return scorer
}
