package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// recv: fetch and decrypt queued messages, then top up one-time pre-keys.
func recvCmd() *cobra.Command {
	var (
		limit int
		repin bool
	)
	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Fetch and decrypt your queued messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			me, err := appCtx.Party(party)
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = appCtx.Config.Client.FetchLimit
			}
			appCtx.Sessions.AcceptRepin = repin

			msgs, err := appCtx.Messages.ReceiveMessages(cmd.Context(), passphrase, me, limit)
			for _, m := range msgs {
				ts := time.UnixMilli(m.Timestamp).Local().Format(time.DateTime)
				fmt.Printf("[%s] %s: %s\n", ts, m.From, string(m.Plaintext))
			}
			if err != nil {
				return err
			}

			if _, err := appCtx.Replenish(cmd.Context(), passphrase, me); err != nil {
				logger().Warn("replenishing one-time pre-keys failed", zap.Error(err))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum messages to fetch (default from config)")
	cmd.Flags().BoolVar(&repin, "repin", false, "accept handshakes from a partner whose identity changed")
	return cmd
}
