package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/propertypulse/campaign-engine/internal/analytics"
	"github.com/propertypulse/campaign-engine/internal/config"
	"github.com/propertypulse/campaign-engine/internal/dispatch"
	"github.com/propertypulse/campaign-engine/internal/domain"
	"github.com/propertypulse/campaign-engine/internal/personalize"
	"github.com/propertypulse/campaign-engine/internal/provider"
	"github.com/propertypulse/campaign-engine/internal/repository/memory"
	"github.com/propertypulse/campaign-engine/internal/repository/postgres"
	"github.com/propertypulse/campaign-engine/internal/service/campaign"
	"github.com/propertypulse/campaign-engine/internal/worker"
)

// The worker process owns scheduled-campaign execution. It shares the
// database with the API server; the conditional status UPDATE keeps the
// two from double-starting a campaign.
func main() {
	log.Println("Starting PropertyPulse Campaign Worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required for the worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}
	log.Println("Connected to database")

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
			defer redisClient.Close()
		}
	}

	deliveries := postgres.NewDeliveryRepo(db)

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
			log.Fatalf("Failed to build SES provider: %v", err)
		}
		providers[domain.ChannelEmail] = ses
	}
	if cfg.Twilio.Enabled {
		providers[domain.ChannelSMS] = provider.NewTwilioProvider(provider.TwilioSettings{
			AccountSID:  cfg.Twilio.AccountSID,
			AuthToken:   cfg.Twilio.AuthToken,
			FromNumber:  cfg.Twilio.FromNumber,
			CallbackURL: cfg.Twilio.CallbackURL,
		})
	}

	var dedup analytics.Dedup = memory.NewDedupSet()
	if redisClient != nil {
		dedup = analytics.NewRedisDedup(redisClient, cfg.Engine.DedupRetention())
	}
	an := analytics.NewService(deliveries, postgres.NewMetricsRepo(db), dedup)

	var scorer personalize.SubjectScorer
	if cfg.Bedrock.Enabled {
		scorer, err = personalize.NewBedrockScorer(ctx, cfg.Bedrock.Region, cfg.Bedrock.ModelID)
		if err != nil {
			log.Printf("Bedrock scorer unavailable, using heuristics: %v", err)
			scorer = nil
		}
	}

	svc := campaign.NewService(campaign.Deps{
		Campaigns:  postgres.NewCampaignRepo(db),
		Recipients: postgres.NewRecipientRepo(db),
		Deliveries: deliveries,
		Templates:  postgres.NewTemplateRepo(db),
		Market:     postgres.NewMarketRepo(db),
		Analytics:  an,
		Dispatcher: dispatch.New(deliveries, providers, dispatch.Config{
			MaxAttempts:  cfg.Engine.MaxAttempts,
			BaseBackoff:  cfg.Engine.BaseBackoff(),
			CallTimeout:  cfg.Engine.CallTimeout(),
			PollInterval: cfg.Engine.PollInterval(),
		}),
		Renderer: personalize.NewEngine(scorer),
		Redis:    redisClient,
		Workers:  cfg.Engine.Workers,
	})

	sched := worker.NewScheduler(svc, worker.DefaultSchedulerPollInterval)
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %v, shutting down...", sig)

	sched.Stop()
	log.Println("Shutdown complete")
}
