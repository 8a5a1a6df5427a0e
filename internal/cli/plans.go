package cli

import (
	"github.com/spf13/cobra"

	"goldsynth/internal/app"
)

var (
	plansUser    string
	plansAPIBase string
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List a user's DCA plans via the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.PlansOptions{
			User:    plansUser,
			APIBase: plansAPIBase,
		}
		return getApp().Plans(cmd.Context(), opts)
	},
}

func init() {
	plansCmd.Flags().StringVar(&plansUser, "user", "", "User address to query (required)")
	plansCmd.Flags().StringVar(&plansAPIBase, "api", "", "Daemon API base URL (defaults to configured listen address)")
	_ = plansCmd.MarkFlagRequired("user")
}
