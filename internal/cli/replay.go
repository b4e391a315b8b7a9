package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"arbwatch/internal/app"
)

var (
	replayIn  string
	replayOut string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Rebuild the window log from a snapshot log",
	Long: `Replay feeds a recorded price_snapshots.csv back through the window
state machine and writes the opportunity windows it produces. Windows closed
by the spread or by consecutive errors match the opportunity_windows.csv the
monitor wrote, apart from window_id. Windows the monitor closed at shutdown or
at stale-checkpoint recovery are not reproduced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		a := &app.App{Logger: logger}
		return a.Replay(app.ReplayOptions{SnapshotsPath: replayIn, OutPath: replayOut})
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayIn, "snapshots", "", "Path to price_snapshots.csv")
	replayCmd.Flags().StringVar(&replayOut, "out", "replayed_windows.csv", "Path to write the rebuilt window log")
	_ = replayCmd.MarkFlagRequired("snapshots")
}
