// Seeds demo recipients, behavior profiles, templates, and market data so
// a fresh database has something to campaign against.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/propertypulse/campaign-engine/internal/config"
	"github.com/propertypulse/campaign-engine/internal/repository/postgres"
)

const defaultTemplateBody = `<html>
<body>
  <p>Hi {{ first_name | default: "there" }},</p>
  {{ body }}
  <p>{{ cta }}</p>
  <p>The PropertyPulse Team</p>
</body>
</html>`

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	seedTemplates(ctx, db)
	seedMarkets(ctx, db)
	seedRecipients(ctx, db)
	log.Println("Seed complete")
}

func seedTemplates(ctx context.Context, db *sql.DB) {
	templates := []struct {
		id, subject, story, data, cta string
	}{
		{
			id:      "property-updates",
			subject: "New listings near {{ location }}, {{ first_name }}",
			story:   "A few homes just hit the market in {{ location }} that feel like your kind of place.",
			data:    "{{ location }} this week: {{ days_on_market }} median days on market, median price {{ median_price | currency }}.",
			cta:     "See the new listings",
		},
		{
			id:      "market-insights",
			subject: "{{ location }} market moved {{ trend_pct | signed_pct }}",
			story:   "Prices in {{ location }} are shifting. Here is what that means for you.",
			data:    "Median price {{ median_price | currency }} ({{ trend_pct | signed_pct }} this quarter), {{ days_on_market }} days on market.",
			cta:     "Read the full report",
		},
		{
			id:      "milestone",
			subject: "Happy home anniversary, {{ first_name }}!",
			story:   "Another year in your home. We pulled together what it is worth today.",
			data:    "Homes like yours in {{ location }} now list around {{ median_price | currency }}.",
			cta:     "Get your updated estimate",
		},
	}
	for _, t := range templates {
		_, err := db.ExecContext(ctx, `
			INSERT INTO templates (id, subject, body, story_body, data_body, cta)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, t.id, t.subject, defaultTemplateBody, t.story, t.data, t.cta)
		if err != nil {
			log.Fatalf("seed template %s: %v", t.id, err)
		}
	}
	log.Printf("Seeded %d templates", len(templates))
}

func seedMarkets(ctx context.Context, db *sql.DB) {
	markets := []struct {
		location     string
		medianPrice  float64
		trendPct     float64
		daysOnMarket int
	}{
		{"Austin, TX", 540000, 2.4, 31},
		{"Denver, CO", 612000, -1.1, 27},
		{"Raleigh, NC", 438000, 3.8, 22},
	}
	for _, m := range markets {
		_, err := db.ExecContext(ctx, `
			INSERT INTO market_snapshots (location, median_price, trend_pct, days_on_market)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (location) DO UPDATE SET
				median_price = EXCLUDED.median_price,
				trend_pct = EXCLUDED.trend_pct,
				days_on_market = EXCLUDED.days_on_market
		`, m.location, m.medianPrice, m.trendPct, m.daysOnMarket)
		if err != nil {
			log.Fatalf("seed market %s: %v", m.location, err)
		}
	}
	log.Printf("Seeded %d market snapshots", len(markets))
}

func seedRecipients(ctx context.Context, db *sql.DB) {
	recipients := []struct {
		first, last, email, phone, location, pref string
		dataDriven                                bool
		cta                                       string
		hour, day                                 int
		device                                    string
		score                                     float64
	}{
		{"Maya", "Whitfield", "maya.whitfield@example.com", "+15125550101", "Austin, TX", "email", true, "top", 8, 2, "mobile", 82},
		{"Jordan", "Okafor", "jordan.okafor@example.com", "+13035550102", "Denver, CO", "both", false, "bottom", 19, 4, "desktop", 64},
		{"Priya", "Raman", "priya.raman@example.com", "+19195550103", "Raleigh, NC", "sms", false, "middle", 12, 1, "mobile", 47},
	}
	for _, r := range recipients {
		id := uuid.New().String()
		_, err := db.ExecContext(ctx, `
			INSERT INTO recipients
				(id, email, phone, first_name, last_name, location,
				 channel_preference, unsubscribed, prefers_data_driven, preferred_cta)
			VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`, id, r.email, r.phone, r.first, r.last, r.location, r.pref, r.dataDriven, r.cta)
		if err != nil {
			log.Fatalf("seed recipient %s: %v", r.email, err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO behavior_profiles
				(recipient_id, timezone, optimal_hour, optimal_day_of_week,
				 avg_open_delay_minutes, device_preference, engagement_score)
			VALUES ($1, 'America/Chicago', $2, $3, 45, $4, $5)
			ON CONFLICT (recipient_id) DO NOTHING
		`, id, r.hour, r.day, r.device, r.score)
		if err != nil {
			log.Fatalf("seed profile for %s: %v", r.email, err)
		}
	}
	log.Printf("Seeded %d recipients", len(recipients))
}
