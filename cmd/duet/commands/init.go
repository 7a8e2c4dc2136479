package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"duet/internal/services/identity"
)

func initCmd() *cobra.Command {
	var phrase string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate identity keys and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			generated := phrase == ""
			if generated {
				var err error
				if phrase, err = identity.NewRecoveryPhrase(); err != nil {
					return err
				}
			}
			_, fp, err := appCtx.Identity.GenerateIdentity(passphrase, phrase)
			if err != nil {
				return err
			}
			fmt.Printf("Identity created.\nFingerprint: %s\n", fp)
			if generated {
				fmt.Printf("Recovery phrase (write it down, it is shown once):\n  %s\n", phrase)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&phrase, "phrase", "", "derive the identity from this recovery phrase instead of a new one")
	return cmd
}

func restoreCmd() *cobra.Command {
	var (
		phrase  string
		version uint32
	)
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Rebuild identity keys from a recovery phrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			id, fp, err := appCtx.Identity.RestoreIdentity(passphrase, phrase, version)
			if err != nil {
				return err
			}
			fmt.Printf("Identity version %d restored.\nFingerprint: %s\n", id.Version, fp)
			return nil
		},
	}
	cmd.Flags().StringVar(&phrase, "phrase", "", "recovery phrase")
	cmd.Flags().Uint32Var(&version, "version", 1, "identity version to restore")
	_ = cmd.MarkFlagRequired("phrase")
	return cmd
}

func rotateIdentityCmd() *cobra.Command {
	var phrase string
	cmd := &cobra.Command{
		Use:   "rotate-identity",
		Short: "Move to the next identity version and republish",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			me, err := appCtx.Party(party)
			if err != nil {
				return err
			}
			id, fp, err := appCtx.RotateIdentity(cmd.Context(), passphrase, phrase, me)
			if err != nil {
				return err
			}
			fmt.Printf("Identity rotated to version %d.\nFingerprint: %s\n", id.Version, fp)
			fmt.Println("Partners must confirm the new fingerprint and re-pin it with start-session --repin.")
			return nil
		},
	}
	cmd.Flags().StringVar(&phrase, "phrase", "", "recovery phrase of the current identity")
	_ = cmd.MarkFlagRequired("phrase")
	return cmd
}
