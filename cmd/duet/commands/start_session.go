package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"duet/internal/crypto"
	"duet/internal/domain"
)

// startSessionCmd runs X3DH against the partner's bundle and stores the new
// session; the handshake travels with the first message.
func startSessionCmd() *cobra.Command {
	var (
		repin  bool
		expect string
	)
	cmd := &cobra.Command{
		Use:   "start-session <partner>",
		Short: "Establish a secure session with a partner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			me, err := appCtx.Party(party)
			if err != nil {
				return err
			}
			partner := domain.PartyID(args[0])
			sess, err := appCtx.Sessions.StartSession(cmd.Context(), passphrase, me, partner, domain.StartOptions{
				Repin:             repin,
				ExpectFingerprint: domain.Fingerprint(expect),
			})
			if err != nil {
				return fmt.Errorf("starting session with %q: %w", partner, err)
			}
			fmt.Printf("Session created with %s.\nPartner fingerprint: %s\n",
				partner, crypto.FingerprintIdentity(sess.PartnerIdentity))
			return nil
		},
	}
	cmd.Flags().BoolVar(&repin, "repin", false, "accept a partner identity that differs from the pinned one")
	cmd.Flags().StringVar(&expect, "expect-fingerprint", "", "abort unless the partner's fingerprint matches")
	return cmd
}
