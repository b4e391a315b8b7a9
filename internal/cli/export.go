package cli

import (
	"github.com/spf13/cobra"

	"arbwatch/internal/app"
)

var (
	exportPair      string
	exportPNGPath   string
	exportCSVPath   string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export recorded net spreads as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(app.ExportOptions{
			Pair:      exportPair,
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportPair, "pair", "", "market_pair label to export")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export")
}
