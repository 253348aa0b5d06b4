package main

// #region imports
import (
	"context"
	"flag"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/buildingos/module-advisor/internal/catalog"
	"github.com/buildingos/module-advisor/internal/config"
	"github.com/buildingos/module-advisor/internal/feedback"
	"github.com/buildingos/module-advisor/internal/intent"
	"github.com/buildingos/module-advisor/internal/llm"
)

// #endregion imports

// #region catalog-data

// sampleCatalog is the starter module set for a fresh deployment.
var sampleCatalog = []catalog.Module{
	{
		ID: "energy-analyzer", Name: "Energy Analyzer", Theme: "energy_management",
		Description: "Track and reduce energy consumption and costs across meters and tenants",
		Category:    "analytics", License: "free",
		Tags:     []string{"metering", "benchmarking", "cost-allocation"},
		Personas: []string{"energy_manager", "facility_manager"},
		Goals:    []string{"reduce energy costs", "track consumption"},
		Scales:   []string{"small", "medium", "large", "enterprise"},
	},
	{
		ID: "hvac-optimizer", Name: "HVAC Optimizer", Theme: "hvac",
		Description: "Optimize heating and cooling schedules from occupancy and weather forecasts",
		Category:    "control", License: "premium",
		Tags:         []string{"scheduling", "setpoint-tuning", "weather-compensation"},
		Personas:     []string{"facility_manager"},
		Goals:        []string{"reduce energy costs", "improve comfort"},
		Scales:       []string{"medium", "large", "enterprise"},
		Dependencies: []string{"iot-gateway"},
	},
	{
		ID: "iot-gateway", Name: "IoT Gateway", Theme: "energy_management",
		Description: "Connect BACnet and Modbus field devices to the platform",
		Category:    "infrastructure", License: "standard",
		Tags:     []string{"bacnet", "modbus", "telemetry"},
		Personas: []string{"facility_manager"},
		Goals:    []string{"connect building systems"},
		Scales:   []string{"small", "medium", "large", "enterprise"},
	},
	{
		ID: "air-quality-monitor", Name: "Air Quality Monitor", Theme: "air_quality",
		Description: "Monitor CO2, humidity, and particulates with ventilation alerts",
		Category:    "monitoring", License: "standard",
		Tags:         []string{"co2", "iaq", "ventilation"},
		Personas:     []string{"facility_manager"},
		Goals:        []string{"improve air quality"},
		Scales:       []string{"small", "medium", "large"},
		Dependencies: []string{"iot-gateway"},
	},
	{
		ID: "access-control", Name: "Access Control", Theme: "security",
		Description: "Manage badge access, door schedules, and visitor passes",
		Category:    "security", License: "standard",
		Tags:     []string{"badges", "doors", "visitors"},
		Personas: []string{"security_officer"},
		Goals:    []string{"secure the building"},
		Scales:   []string{"small", "medium", "large", "enterprise"},
	},
	{
		ID: "video-surveillance", Name: "Video Surveillance", Theme: "security",
		Description: "Camera management with motion detection and incident clips",
		Category:    "security", License: "premium",
		Tags:         []string{"cameras", "motion-detection", "incidents"},
		Personas:     []string{"security_officer"},
		Goals:        []string{"secure the building"},
		Scales:       []string{"medium", "large", "enterprise"},
		Dependencies: []string{"access-control"},
	},
	{
		ID: "predictive-maintenance", Name: "Predictive Maintenance", Theme: "maintenance",
		Description: "Predict equipment faults from vibration and runtime telemetry",
		Category:    "analytics", License: "enterprise",
		Tags:         []string{"fault-prediction", "work-orders", "asset-health"},
		Personas:     []string{"facility_manager"},
		Goals:        []string{"reduce downtime"},
		Scales:       []string{"large", "enterprise"},
		Dependencies: []string{"iot-gateway"},
	},
	{
		ID: "work-order-manager", Name: "Work Order Manager", Theme: "maintenance",
		Description: "Create, assign, and track maintenance work orders",
		Category:    "operations", License: "free",
		Tags:     []string{"work-orders", "scheduling", "technicians"},
		Personas: []string{"facility_manager"},
		Goals:    []string{"organize maintenance"},
		Scales:   []string{"small", "medium", "large", "enterprise"},
	},
	{
		ID: "space-planner", Name: "Space Planner", Theme: "space_management",
		Description: "Desk booking and occupancy analytics for flexible workplaces",
		Category:    "workplace", License: "standard",
		Tags:     []string{"desk-booking", "occupancy", "utilization"},
		Personas: []string{"facility_manager", "executive"},
		Goals:    []string{"optimize space usage"},
		Scales:   []string{"medium", "large", "enterprise"},
	},
	{
		ID: "legacy-thermostat-bridge", Name: "Legacy Thermostat Bridge", Theme: "hvac",
		Description: "Control first-generation standalone thermostats",
		Category:    "infrastructure", License: "free",
		Tags:      []string{"thermostats", "legacy"},
		Personas:  []string{"facility_manager"},
		Goals:     []string{"connect building systems"},
		Scales:    []string{"small"},
		Conflicts: []string{"hvac-optimizer"},
	},
	{
		ID: "tenant-billing", Name: "Tenant Billing", Theme: "energy_management",
		Description: "Split measured consumption into tenant invoices",
		Category:    "finance", License: "premium",
		Tags:         []string{"sub-metering", "invoicing", "tenants"},
		Personas:     []string{"executive"},
		Goals:        []string{"recover energy costs"},
		Scales:       []string{"medium", "large", "enterprise"},
		Dependencies: []string{"energy-analyzer"},
	},
	{
		ID: "portfolio-dashboard", Name: "Portfolio Dashboard", Theme: "energy_management",
		Description: "Executive roll-up of consumption, cost, and comfort across sites",
		Category:    "analytics", License: "enterprise",
		Tags:         []string{"kpi", "portfolio", "reporting"},
		Personas:     []string{"executive"},
		Goals:        []string{"portfolio visibility"},
		Scales:       []string{"enterprise"},
		Dependencies: []string{"energy-analyzer"},
	},
}

// #endregion catalog-data

// #region main

func main() {
	demo := flag.Bool("demo", false, "also generate demo users and feedback history")
	embed := flag.Bool("embed", false, "compute module embeddings via the capability endpoint")
	flag.Parse()

	cfg := config.Load()
	log := config.NewLogger(cfg)
	ctx := context.Background()

	cat, err := catalog.NewStore(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("open catalog")
	}
	defer cat.Close()

	var embedder *llm.Retry
	if *embed {
		embedder = llm.NewRetry(llm.NewClient(llm.Config{
			BaseURL:    cfg.LLMBaseURL,
			APIKey:     cfg.LLMAPIKey,
			ChatModel:  cfg.LLMChatModel,
			EmbedModel: cfg.LLMEmbedModel,
			Timeout:    cfg.LLMTimeout,
		}), 2*time.Second)
	}

	for _, m := range sampleCatalog {
		if embedder != nil {
			vec, err := embedder.Embed(ctx, m.SearchText())
			if err != nil {
				log.WithError(err).WithField("module", m.ID).Warn("embedding failed, storing without vector")
			} else {
				m.Embedding = vec
			}
		}
		if err := cat.Upsert(ctx, m); err != nil {
			log.WithError(err).WithField("module", m.ID).Fatal("seed module")
		}
		log.WithField("module", m.ID).Info("seeded")
	}

	if *demo {
		seedDemoFeedback(ctx, cfg, log)
	}
	log.WithField("modules", len(sampleCatalog)).Info("catalog seeded")
}

// #endregion main

// #region demo

// seedDemoFeedback fabricates a handful of users with plausible interaction
// and feedback history, so trending and personalization have data to show.
func seedDemoFeedback(ctx context.Context, cfg config.Config, log *logrus.Logger) {
	fb, err := feedback.NewStore(cfg.DBPath, cfg.AffinityDecay)
	if err != nil {
		log.WithError(err).Fatal("open feedback store")
	}
	defer fb.Close()

	gofakeit.Seed(11)
	goals := []string{
		"reduce energy costs", "improve air quality", "secure the building",
		"reduce downtime", "optimize space usage",
	}
	actions := []feedback.Action{
		feedback.ActionAccepted, feedback.ActionDeployed,
		feedback.ActionRejected, feedback.ActionRating,
	}

	for u := 0; u < 5; u++ {
		userID := gofakeit.Username()
		for i := 0; i < 4; i++ {
			mod := sampleCatalog[gofakeit.Number(0, len(sampleCatalog)-1)]
			interactionID := uuid.NewString()
			occurred := time.Now().UTC().Add(-time.Duration(gofakeit.Number(1, 240)) * time.Hour)

			err := fb.AppendInteraction(ctx, feedback.Interaction{
				ID:             interactionID,
				ConversationID: uuid.NewString(),
				UserID:         userID,
				Intent:         intent.Intent{Goal: goals[gofakeit.Number(0, len(goals)-1)], Theme: mod.Theme},
				Recommendations: []feedback.RecommendationRecord{
					{ModuleID: mod.ID, Rank: 1, Score: gofakeit.Float64Range(0.4, 0.95), Priority: "high"},
				},
				CreatedAt: occurred,
			})
			if err != nil {
				log.WithError(err).Fatal("seed interaction")
			}

			action := actions[gofakeit.Number(0, len(actions)-1)]
			event := feedback.Feedback{
				UserID:        userID,
				InteractionID: interactionID,
				ModuleID:      mod.ID,
				ModuleTheme:   mod.Theme,
				Action:        action,
				OccurredAt:    occurred.Add(time.Hour),
			}
			if action == feedback.ActionRating {
				event.Rating = gofakeit.Number(1, 5)
			}
			if err := fb.Record(ctx, event); err != nil {
				log.WithError(err).Fatal("seed feedback")
			}
		}
		log.WithField("user", userID).Info("demo history seeded")
	}
}

// #endregion demo
