package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// newCostsCmd creates the costs command group.
func newCostsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "costs",
		Short: "Track embedding and LLM spend",
	}
	cmd.AddCommand(newCostsSummaryCmd())
	cmd.AddCommand(newCostsHistoryCmd())
	cmd.AddCommand(newCostsAlertsCmd())
	return cmd
}

func newCostsSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Month-to-date spend against the budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			summary, err := api.CostSummary(ctx)
			if err != nil {
				return fmt.Errorf("cost summary: %w", err)
			}

			if outputJSON {
				return emitJSON(summary)
			}

			ui := NewUI(outputJSON, noColor)
			ui.Section("Monthly budget")
			ui.KeyValue("Budget", fmt.Sprintf("$%.2f", summary.MonthlyBudgetUSD))
			ui.KeyValue("Spent", fmt.Sprintf("$%.4f", summary.CurrentSpendUSD))
			ui.KeyValue("Remaining", fmt.Sprintf("$%.4f", summary.RemainingUSD))
			ui.KeyValue("Used", formatPercent(summary.PercentUsed))
			if summary.FallbackActive {
				ui.Warning("Budget exhausted: cloud providers disabled, running local-only")
			}

			if len(summary.Breakdown) > 0 {
				ui.Newline()
				rows := make([][]string, 0, len(summary.Breakdown))
				for _, row := range summary.Breakdown {
					rows = append(rows, []string{
						row.Provider,
						row.Operation,
						fmt.Sprintf("%d", row.RequestCount),
						fmt.Sprintf("%d", row.TotalTokens),
						fmt.Sprintf("$%.4f", row.TotalCost),
						fmt.Sprintf("$%.6f", row.AvgCostPerRequest),
					})
				}
				ui.Table([]string{"PROVIDER", "OPERATION", "REQUESTS", "TOKENS", "COST", "AVG/REQ"}, rows)
			}
			return nil
		},
	}
}

func newCostsHistoryCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Daily spend over a recent window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}
			start := time.Now().AddDate(0, 0, -days)

			history, err := api.CostHistory(ctx, start, time.Time{})
			if err != nil {
				return fmt.Errorf("cost history: %w", err)
			}

			if outputJSON {
				return emitJSON(map[string]any{"history": history})
			}

			ui := NewUI(outputJSON, noColor)
			if len(history) == 0 {
				ui.Info("No spend recorded in the last %d day(s)", days)
				return nil
			}

			var total float64
			rows := make([][]string, 0, len(history))
			for _, day := range history {
				total += day.TotalCost
				rows = append(rows, []string{
					day.Date.Format("2006-01-02"),
					fmt.Sprintf("%d", day.RequestCount),
					fmt.Sprintf("$%.4f", day.TotalCost),
				})
			}
			ui.Table([]string{"DATE", "REQUESTS", "COST"}, rows)
			ui.Newline()
			ui.KeyValue("Total", fmt.Sprintf("$%.4f over %d day(s)", total, len(history)))
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 30, "window size in days")

	return cmd
}

func newCostsAlertsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Recent budget alerts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			alerts, err := api.CostAlerts(ctx, limit)
			if err != nil {
				return fmt.Errorf("cost alerts: %w", err)
			}

			if outputJSON {
				return emitJSON(map[string]any{"alerts": alerts})
			}

			ui := NewUI(outputJSON, noColor)
			if len(alerts) == 0 {
				ui.Success("No budget alerts")
				return nil
			}

			rows := make([][]string, 0, len(alerts))
			for _, alert := range alerts {
				rows = append(rows, []string{
					alert.AlertType,
					alert.Period,
					fmt.Sprintf("$%.2f", alert.ThresholdUSD),
					fmt.Sprintf("$%.4f", alert.CurrentSpendUSD),
					alert.TriggeredAt.Format(time.RFC3339),
				})
			}
			ui.Table([]string{"TYPE", "PERIOD", "THRESHOLD", "SPEND", "TRIGGERED"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum alerts to show")

	return cmd
}

func formatPercent(percent float64) string {
	text := fmt.Sprintf("%.1f%%", percent)
	if noColor {
		return text
	}
	switch {
	case percent >= 100:
		return color.New(color.FgRed, color.Bold).Sprint(text)
	case percent >= 80:
		return color.New(color.FgYellow).Sprint(text)
	default:
		return color.New(color.FgGreen).Sprint(text)
	}
}
