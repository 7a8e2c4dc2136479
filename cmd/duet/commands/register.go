package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"duet/internal/domain"
)

func registerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register <party>",
		Short: "Publish your identity and pre-keys to the relay",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			keys, err := appCtx.Register(cmd.Context(), passphrase, domain.PartyID(args[0]))
			if err != nil {
				return err
			}
			fmt.Printf("Registered %s with %s (%d one-time pre-keys published)\n",
				keys.PartyID, appCtx.RelayURL, len(keys.OneTimePreKeys))
			return nil
		},
	}
}

func rotatePreKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-prekeys",
		Short: "Replace the signed pre-key and prune expired ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			me, err := appCtx.Party(party)
			if err != nil {
				return err
			}
			spk, pruned, err := appCtx.RotatePreKeys(cmd.Context(), passphrase, me)
			if err != nil {
				return err
			}
			fmt.Printf("Signed pre-key %s published; %d expired keys pruned\n", spk.ID, pruned)
			return nil
		},
	}
}
