package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
	"github.com/SmitUplenchwar2687/txreplay/internal/logging"
	"github.com/SmitUplenchwar2687/txreplay/internal/replay"
)

func newReplayCmd() *cobra.Command {
	var (
		opts       runOptions
		outputJSON bool
	)

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a capture to stdout without a network",
		Long: `Runs one replay pass with exactly the filtering and pacing a client would
see, writing each delivered payload to stdout.

Pacing: --delay 0 replays instantly; --pacing timestamp follows the
capture's own timing scaled by --speed.`,
		Example: `  txreplay replay --file xdf.log
  txreplay replay --file xdf.log --delay 0 --json
  txreplay replay --file xdf.log --pacing timestamp --speed 100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			engine := replay.New(cfg.Settings(), clock.NewRealClock(), logger)

			var sink replay.Sink = replay.NewWriterSink(out)
			if outputJSON {
				sink = replay.Discard
			}
			var deliveries []replay.Delivery
			summary, err := engine.Run(ctx, "dry-run", sink, func(d replay.Delivery) {
				if outputJSON {
					deliveries = append(deliveries, d)
				}
			})
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]interface{}{
					"deliveries": deliveries,
					"summary":    summary,
				})
			}
			printSummary(out, summary)
			return nil
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output deliveries and summary as JSON")

	return cmd
}

func printSummary(w io.Writer, s *replay.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "--- Replay Summary ---")
	fmt.Fprintf(w, "  State:            %s\n", s.State)
	fmt.Fprintf(w, "  Lines read:       %d\n", s.Lines)
	fmt.Fprintf(w, "  Malformed:        %d\n", s.Malformed)
	fmt.Fprintf(w, "  Wrong direction:  %d\n", s.WrongDirection)
	fmt.Fprintf(w, "  Skipped:          %d\n", s.Skipped)
	fmt.Fprintf(w, "  Delivered:        %d\n", s.Delivered)
	fmt.Fprintf(w, "  Wall time:        %s\n", s.Elapsed.Round(time.Millisecond))
}
