package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateUsd    string
	simulateTokens string
	simulatePrice  string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate a mint or redeem fee breakdown at a given gold price",
	RunE: func(cmd *cobra.Command, args []string) error {
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return fmt.Errorf("invalid --price value: %w", err)
		}

		switch {
		case simulateUsd != "" && simulateTokens != "":
			return fmt.Errorf("--usd and --tokens are mutually exclusive")
		case simulateUsd != "":
			usd, err := decimal.NewFromString(simulateUsd)
			if err != nil {
				return fmt.Errorf("invalid --usd value: %w", err)
			}
			return getApp().SimulateMint(usd, price)
		case simulateTokens != "":
			tokens, err := decimal.NewFromString(simulateTokens)
			if err != nil {
				return fmt.Errorf("invalid --tokens value: %w", err)
			}
			return getApp().SimulateRedeem(tokens, price)
		default:
			return fmt.Errorf("one of --usd (mint) or --tokens (redeem) is required")
		}
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateUsd, "usd", "", "USD amount to simulate minting with")
	simulateCmd.Flags().StringVar(&simulateTokens, "tokens", "", "Token amount to simulate redeeming")
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "Gold price in USD per troy ounce (required)")
	_ = simulateCmd.MarkFlagRequired("price")
}
