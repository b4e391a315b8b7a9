package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simKalshiBid string
	simKalshiAsk string
	simPolyBid   string
	simPolyAsk   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Run synthetic quotes through the cost model and alert path",
	RunE: func(cmd *cobra.Command, args []string) error {
		prices := make([]decimal.Decimal, 4)
		for i, raw := range []string{simKalshiBid, simKalshiAsk, simPolyBid, simPolyAsk} {
			d, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", raw, err)
			}
			prices[i] = d
		}
		return getApp().SimulateAlert(cmd.Context(), prices[0], prices[1], prices[2], prices[3])
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simKalshiBid, "kalshi-bid", "0.40", "Kalshi yes bid")
	simulateCmd.Flags().StringVar(&simKalshiAsk, "kalshi-ask", "0.42", "Kalshi yes ask")
	simulateCmd.Flags().StringVar(&simPolyBid, "poly-bid", "0.55", "Polymarket yes bid")
	simulateCmd.Flags().StringVar(&simPolyAsk, "poly-ask", "0.57", "Polymarket yes ask")
}
