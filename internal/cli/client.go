package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/txreplay/internal/config"
	"github.com/SmitUplenchwar2687/txreplay/internal/publish"
	"github.com/SmitUplenchwar2687/txreplay/internal/transport"
)

func newClientCmd() *cobra.Command {
	var (
		addr    string
		key     string
		limit   int
		useNATS bool
		natsURL string
		subject string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a replay server and print what it sends",
		Example: `  txreplay client --addr localhost:7070 --key "secret phrase"
  txreplay client --addr localhost:7070 --limit 10
  txreplay client --nats --nats-url nats://127.0.0.1:4222 --subject txreplay.xdf`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			if useNATS {
				return publish.Subscribe(ctx, natsURL, subject, func(b []byte) {
					fmt.Fprintln(out, string(b))
				})
			}

			n, err := receive(ctx, addr, []byte(key), limit, out)
			fmt.Fprintf(cmd.ErrOrStderr(), "received %d messages\n", n)
			return err
		},
	}

	def := config.Default()
	cmd.Flags().StringVar(&addr, "addr", def.Listen.Addr(), "replay server address")
	cmd.Flags().StringVar(&key, "key", def.Listen.AuthKey, "shared secret (empty = no handshake)")
	cmd.Flags().IntVar(&limit, "limit", 0, "disconnect after this many messages (0 = until the server closes)")
	cmd.Flags().BoolVar(&useNATS, "nats", false, "subscribe to NATS instead of connecting over TCP")
	cmd.Flags().StringVar(&natsURL, "nats-url", def.NATS.URL, "NATS server URL")
	cmd.Flags().StringVar(&subject, "subject", def.NATS.Subject, "NATS subject")

	return cmd
}

// receive prints every message from the server at addr until it closes the
// connection, limit messages arrive, or ctx is done.
func receive(ctx context.Context, addr string, key []byte, limit int, out io.Writer) (int, error) {
	c, err := transport.Dial(ctx, addr, key)
	if err != nil {
		return 0, err
	}
	defer c.Close()
	stop := context.AfterFunc(ctx, func() {
		c.Close()
	})
	defer stop()

	n := 0
	for limit <= 0 || n < limit {
		msg, err := c.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return n, nil
			}
			return n, err
		}
		fmt.Fprintln(out, string(msg))
		n++
	}
	return n, nil
}
