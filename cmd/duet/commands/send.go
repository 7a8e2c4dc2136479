package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"duet/internal/domain"
)

// send <partner> <message>: encrypt and send a message to <partner>.
func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <partner> <message>",
		Short: "Encrypt and send a message to a partner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := appCtx.Party(party)
			if err != nil {
				return err
			}
			out, err := appCtx.Messages.SendMessage(cmd.Context(), me, domain.PartyID(args[0]), []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("sent #%d (%s)\n", out.SequenceNumber, out.Wire.MessageID)
			return nil
		},
	}
}
