package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"duet/internal/crypto"
	"duet/internal/domain"
)

func fingerprintCmd() *cobra.Command {
	var partner string
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print your identity fingerprint, or the pinned one of a partner",
		RunE: func(cmd *cobra.Command, args []string) error {
			if partner != "" {
				p, ok, err := appCtx.Partners.LoadPartner(domain.PartyID(partner))
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no pinned identity for %q", partner)
				}
				fmt.Printf("%s: %s (re-pinned %d times)\n", partner, crypto.FingerprintIdentity(p.Identity), p.Repinnings)
				return nil
			}
			if err := requirePassphrase(); err != nil {
				return err
			}
			fp, err := appCtx.Identity.FingerprintIdentity(passphrase)
			if err != nil {
				return err
			}
			fmt.Printf("Fingerprint: %s\n", fp)
			return nil
		},
	}
	cmd.Flags().StringVar(&partner, "partner", "", "show the pinned fingerprint of this partner")
	return cmd
}
