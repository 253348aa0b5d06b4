package main

// #region imports
import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/buildingos/module-advisor/internal/config"
	"github.com/buildingos/module-advisor/internal/engine"
	"github.com/buildingos/module-advisor/internal/feedback"
	"github.com/buildingos/module-advisor/internal/intent"
)

// #endregion imports

// #region main

func main() {
	cfg := config.Load()
	log := config.NewLogger(cfg)

	eng, cleanup, err := engine.Build(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("engine init failed")
	}
	defer cleanup()

	userID := envOr("ADVISOR_USER", "local-user")
	userCtx := intent.UserContext{
		BuildingScale: os.Getenv("ADVISOR_SCALE"),
		LicenseTier:   envOr("ADVISOR_LICENSE", "standard"),
	}

	fmt.Println("Module Advisor ready.")
	fmt.Printf("  DB: %s | Capability: %s\n", cfg.DBPath, cfg.LLMBaseURL)
	fmt.Println("Describe what you need (or 'accept <module>', 'reject <module>', 'quit'):")

	scanner := bufio.NewScanner(os.Stdin)
	conversationID := ""
	lastInteraction := ""

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		if action, moduleID, ok := parseFeedback(line); ok {
			if lastInteraction == "" {
				fmt.Println("no recommendation to respond to yet")
				continue
			}
			err := eng.RecordFeedback(context.Background(), feedback.Feedback{
				UserID:        userID,
				InteractionID: lastInteraction,
				ModuleID:      moduleID,
				Action:        action,
			})
			if err != nil {
				fmt.Printf("feedback error: %v\n", err)
				continue
			}
			fmt.Printf("recorded: %s %s\n", action, moduleID)
			continue
		}

		events, err := eng.RecommendStream(context.Background(), engine.Request{
			Query:          line,
			UserID:         userID,
			ConversationID: conversationID,
			Context:        userCtx,
		})
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}

		for ev := range events {
			switch ev.Type {
			case engine.EventStart:
				conversationID = ev.ConversationID
				lastInteraction = ev.InteractionID
				fmt.Printf("\n%d candidate modules:\n", len(ev.Recommendations))
			case engine.EventTextDelta:
				if ev.Delta != "" {
					fmt.Print(ev.Delta)
				}
			case engine.EventRationaleComplete:
				r := ev.Recommendation
				fmt.Printf("\n  [%d] %s (%s, score %.2f)\n\n", r.Rank, r.Module.Name, r.Priority, r.Score)
			case engine.EventComplete:
				printSummary(ev.Result)
			case engine.EventError:
				fmt.Printf("\nstream failed: %s\n", ev.Error)
			}
		}
	}
}

// #endregion main

// #region output

func printSummary(res *engine.Result) {
	if res == nil {
		return
	}
	for _, in := range res.Ineligible {
		fmt.Printf("excluded %s: %s\n", in.ModuleID, strings.Join(in.Reasons, "; "))
	}
	for _, adv := range res.Advisories {
		fmt.Printf("note: %s\n", adv)
	}
	for _, sg := range res.Suggestions {
		fmt.Printf("also consider %s: %s\n", sg.Module.ID, sg.Rationale)
	}
	fmt.Printf("[%s] tokens=%d\n", res.InteractionID, res.Usage.TotalTokens)
}

// #endregion output

// #region helpers

func parseFeedback(line string) (feedback.Action, string, bool) {
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", "", false
	}
	switch fields[0] {
	case "accept":
		return feedback.ActionAccepted, fields[1], true
	case "reject":
		return feedback.ActionRejected, fields[1], true
	case "deploy":
		return feedback.ActionDeployed, fields[1], true
	}
	return "", "", false
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
