package cli

import (
	"github.com/spf13/cobra"

	"arbwatch/internal/app"
)

var showLimit int

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print recently closed opportunity windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{Limit: showLimit})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Maximum windows to display")
}
