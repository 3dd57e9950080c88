package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/goodtune/labportal/internal/config"
	"github.com/goodtune/labportal/internal/dashboard"
	"github.com/goodtune/labportal/internal/identity"
	"github.com/goodtune/labportal/internal/labstats"
	"github.com/goodtune/labportal/internal/storage"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var statsJSON bool

var statsCmd = &cobra.Command{
	Use:   "stats [flags] USER",
	Short: "Show recorded lab time for a user",
	Long: `Show the lab time recorded for a user, as it appears on their dashboard.
USER is a user ID, or a username or email of a locally registered account.`,
	Example: `  labportal -c config.yaml stats alice
  labportal stats --json 5c1f3a9e-2d2b-4c55-9a57-0f6a0d4e8b11`,
	Args: cobra.ExactArgs(1),
	RunE: runStats,
}

func init() {
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "Print the summary as JSON")
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := lookupUser(ctx, store.Users(), args[0])
	if err != nil {
		return err
	}

	stats := labstats.NewStore(store.KV(), zerolog.Nop())
	records, err := stats.Records(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to load lab time: %w", err)
	}

	summary := dashboard.Build(user, records)

	if statsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	printSummary(user, summary)
	return nil
}

// lookupUser resolves arg against local accounts, falling back to treating
// it as a bare user ID for externally managed accounts.
func lookupUser(ctx context.Context, users storage.UserStore, arg string) (identity.Record, error) {
	u, err := users.Get(ctx, arg)
	if errors.Is(err, storage.ErrNotFound) {
		u, err = users.GetByIdentity(ctx, arg)
	}
	switch {
	case err == nil:
		return identity.Record{
			ID:       u.ID,
			Username: u.Username,
			Email:    u.Email,
			Created:  u.Created,
		}, nil
	case errors.Is(err, storage.ErrNotFound):
		return identity.Record{ID: arg, Username: arg}, nil
	default:
		return identity.Record{}, fmt.Errorf("failed to look up user: %w", err)
	}
}

func printSummary(user identity.Record, summary dashboard.Summary) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Printf("%s", summary.Profile.Username)
	if summary.Profile.Email != "" {
		fmt.Printf(" <%s>", summary.Profile.Email)
	}
	fmt.Printf("  (id %s)\n", user.ID)
	if summary.Profile.MemberSince != "" {
		fmt.Printf("Member since %s\n", summary.Profile.MemberSince)
	}

	fmt.Println()
	fmt.Printf("Labs:        %d\n", summary.LabCount)
	fmt.Printf("Total time:  ")
	green.Println(summary.Total)
	fmt.Printf("Average:     ")
	green.Println(summary.Average)

	if summary.Empty {
		fmt.Println()
		yellow.Println("No lab activity recorded yet.")
		return
	}

	fmt.Println()
	cyan.Printf("%-30s %-20s %-12s %-12s\n", "LAB", "CATEGORY", "TIME", "LAST")
	for _, row := range summary.Rows {
		last := row.LastAccessed
		if last == "" {
			last = "-"
		}
		fmt.Printf("%-30s %-20s ", row.LabName, row.Category)
		green.Printf("%-12s", row.TimeSpent)
		fmt.Printf(" %-12s\n", last)
	}
}
