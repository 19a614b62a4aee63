package cli

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/txreplay/internal/clock"
	"github.com/SmitUplenchwar2687/txreplay/internal/config"
	"github.com/SmitUplenchwar2687/txreplay/internal/logging"
	"github.com/SmitUplenchwar2687/txreplay/internal/publish"
	"github.com/SmitUplenchwar2687/txreplay/internal/replay"
)

func newPublishCmd() *cobra.Command {
	var (
		opts    runOptions
		natsURL string
		subject string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Replay a capture once to a NATS subject",
		Long: `Runs one replay pass and publishes every delivered payload as one NATS
message, for consumers that subscribe rather than connect.`,
		Example: `  txreplay publish --file xdf.log
  txreplay publish --file xdf.log --nats-url nats://broker:4222 --subject md.replay --delay 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("nats-url") {
				cfg.NATS.URL = natsURL
			}
			if cmd.Flags().Changed("subject") {
				cfg.NATS.Subject = subject
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			pub, err := publish.Connect(cfg.NATS.URL, cfg.NATS.Subject, logger)
			if err != nil {
				return err
			}
			defer pub.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			engine := replay.New(cfg.Settings(), clock.NewRealClock(), logger)
			summary, err := engine.Run(ctx, "nats", pub, nil)
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), summary)
			return nil
		},
	}

	def := config.Default()
	opts.addFlags(cmd)
	cmd.Flags().StringVar(&natsURL, "nats-url", def.NATS.URL, "NATS server URL")
	cmd.Flags().StringVar(&subject, "subject", def.NATS.Subject, "NATS subject")

	return cmd
}
