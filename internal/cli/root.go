package cli

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root txreplay command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "txreplay",
		Short: "Replay TXmlConnector capture logs to test clients",
		Long: `txreplay streams the outbound callbacks of a recorded TXmlConnector log
to connected clients, so client code can be exercised against real market
traffic without a live connection.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newReplayCmd(),
		newClientCmd(),
		newPublishCmd(),
		newGenerateCmd(),
		newInitConfigCmd(),
	)

	return root
}
