package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"goldsynth/internal/domain"
)

// Plans queries the running daemon's API for one user's DCA plans and, when
// the database is configured, appends the user's recent execution journal.
func (a *App) Plans(ctx context.Context, opts PlansOptions) error {
	if opts.User == "" {
		return errors.New("user is required")
	}

	base := strings.TrimRight(opts.APIBase, "/")
	if base == "" {
		base = "http://localhost" + a.Config.API.ListenAddr
	}

	url := fmt.Sprintf("%s/api/v1/users/%s/plans", base, opts.User)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("query daemon API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("daemon API returned %d", resp.StatusCode)
	}

	var payload struct {
		Plans []struct {
			ID                  int    `json:"id"`
			AmountUsd           string `json:"amount_usd"`
			FrequencySeconds    int64  `json:"frequency_seconds"`
			Status              string `json:"status"`
			NextExecutionAt     string `json:"next_execution_at"`
			TotalInvestedUsd    string `json:"total_invested_usd"`
			TotalTokensReceived string `json:"total_tokens_received"`
			ExecutionsCount     int64  `json:"executions_count"`
		} `json:"plans"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode plans response: %w", err)
	}

	if len(payload.Plans) == 0 {
		fmt.Fprintln(os.Stdout, "no plans found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tAmount(USD)\tFrequency\tStatus\tNext execution\tInvested\tTokens\tRuns")
	for _, p := range payload.Plans {
		fmt.Fprintf(writer, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			p.ID,
			p.AmountUsd,
			(time.Duration(p.FrequencySeconds) * time.Second).String(),
			p.Status,
			p.NextExecutionAt,
			p.TotalInvestedUsd,
			p.TotalTokensReceived,
			p.ExecutionsCount,
		)
	}
	writer.Flush()

	return a.showExecutions(ctx, domain.Address(opts.User))
}

func (a *App) showExecutions(ctx context.Context, user domain.Address) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return nil
	}
	if closeStore != nil {
		defer closeStore()
	}

	records, err := store.ListRecentExecutions(ctx, user, 20)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	fmt.Fprintln(os.Stdout, "\nRecent executions:")
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPlan\tUSD\tTokens\tFee")
	for _, rec := range records {
		fmt.Fprintf(writer, "%s\t%d\t%s\t%s\t%s\n",
			rec.ExecutedAt.UTC().Format(time.RFC3339),
			rec.PlanID,
			rec.UsdAmount.String(),
			rec.TokensReceived.String(),
			rec.Fee.String(),
		)
	}
	writer.Flush()
	return nil
}
