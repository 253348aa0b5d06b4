package main

// #region imports
import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/buildingos/module-advisor/internal/catalog"
	"github.com/buildingos/module-advisor/internal/feedback"
)

// #endregion imports

// #region main

func main() {
	dbPath := flag.String("db", "", "path to module_advisor.db")
	theme := flag.String("theme", "", "filter module list to one theme")
	user := flag.String("user", "", "show one user's profile and recent interactions")
	trending := flag.Bool("trending", false, "show trending modules over the last 30 days")
	last := flag.Int("last", 10, "show N most recent interactions in user mode")
	jsonOut := flag.Bool("json", false, "output as JSON instead of table")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/module_advisor.db [--theme t] [--user id [--last N]] [--trending] [--json]")
		os.Exit(2)
	}

	cat, err := catalog.NewStore(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open db: %v\n", err)
		os.Exit(1)
	}
	defer cat.Close()
	fb, err := feedback.NewStoreWithDB(cat.DB(), 0.8)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open feedback tables: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	switch {
	case *user != "":
		err = runUserMode(ctx, fb, *user, *last, *jsonOut)
	case *trending:
		err = runTrendingMode(ctx, fb, *jsonOut)
	default:
		err = runCatalogMode(ctx, cat, *theme, *jsonOut)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region catalog-mode

func runCatalogMode(ctx context.Context, cat *catalog.Store, theme string, jsonOut bool) error {
	mods, err := cat.List(ctx, theme)
	if err != nil {
		return err
	}
	if len(mods) == 0 {
		fmt.Fprintln(os.Stderr, "no modules found")
		return nil
	}
	if jsonOut {
		return printJSON(mods)
	}

	fmt.Printf("%-26s  %-18s  %-10s  %-8s  %s\n",
		"Module", "Theme", "License", "Vector", "Dependencies")
	fmt.Printf("%-26s+-%-18s+-%-10s+-%-8s+-%s\n",
		strings.Repeat("-", 26), strings.Repeat("-", 18),
		strings.Repeat("-", 10), strings.Repeat("-", 8), strings.Repeat("-", 20))
	for _, m := range mods {
		vec := "-"
		if len(m.Embedding) > 0 {
			vec = fmt.Sprintf("%dd", len(m.Embedding))
		}
		fmt.Printf("%-26s  %-18s  %-10s  %-8s  %s\n",
			m.ID, m.Theme, m.License, vec, strings.Join(m.Dependencies, ", "))
	}
	fmt.Printf("\n%d modules\n", len(mods))
	return nil
}

// #endregion catalog-mode

// #region user-mode

type userOutput struct {
	UserID       string                 `json:"user_id"`
	Affinities   map[string]float64     `json:"affinities"`
	Interactions []feedback.Interaction `json:"interactions"`
}

func runUserMode(ctx context.Context, fb *feedback.Store, userID string, last int, jsonOut bool) error {
	profile, err := fb.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	interactions, err := fb.RecentByUser(ctx, userID, last)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(userOutput{UserID: userID, Affinities: profile.Affinities, Interactions: interactions})
	}

	fmt.Printf("User: %s\n\nAffinities:\n", userID)
	keys := make([]string, 0, len(profile.Affinities))
	for k := range profile.Affinities {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		fmt.Println("  (none)")
	}
	for _, k := range keys {
		fmt.Printf("  %-36s %+.4f\n", k, profile.Affinities[k])
	}

	fmt.Printf("\nRecent interactions:\n")
	if len(interactions) == 0 {
		fmt.Println("  (none)")
	}
	for _, it := range interactions {
		mods := make([]string, len(it.Recommendations))
		for i, r := range it.Recommendations {
			mods[i] = r.ModuleID
		}
		fmt.Printf("  %s  %-24s  [%s]\n",
			it.CreatedAt.Format("2006-01-02T15:04:05Z"), shortGoal(it.Intent.Goal), strings.Join(mods, ", "))
	}
	return nil
}

func shortGoal(goal string) string {
	if len(goal) > 24 {
		return goal[:21] + "..."
	}
	return goal
}

// #endregion user-mode

// #region trending-mode

func runTrendingMode(ctx context.Context, fb *feedback.Store, jsonOut bool) error {
	entries, err := fb.Trending(ctx, 30*24*time.Hour, 20)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no positive feedback in window")
		return nil
	}
	fmt.Printf("%-26s  %s\n", "Module", "Positive signals (30d)")
	for _, e := range entries {
		fmt.Printf("%-26s  %d\n", e.ModuleID, e.Count)
	}
	return nil
}

// #endregion trending-mode

// #region output

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// #endregion output
