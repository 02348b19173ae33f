package cmd

import (
	"bufio"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironwire/account"
	"github.com/jmcleod/ironwire/client"
	"github.com/jmcleod/ironwire/transport"
)

var (
	loginUsername string
	loginSession  string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and save the session to the store",
	Long: `Log in with a username and password read from stdin, completing a
two-factor challenge if the server asks for one, and save the session.
The session id defaults to the username.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		in := bufio.NewReader(cmd.InOrStdin())
		out := cmd.ErrOrStderr()

		username := loginUsername
		if username == "" {
			var err error
			if username, err = prompt(in, out, "Username: "); err != nil {
				return err
			}
		}
		password, err := prompt(in, out, "Password: ")
		if err != nil {
			return err
		}

		id := loginSession
		if id == "" {
			id = username
		}
		a, err := newApp(ctx, cfg, id, client.WithRealtimeOnLogin(false))
		if err != nil {
			return err
		}
		defer a.Close(ctx)

		user, err := a.client.Login(ctx, username, []byte(password))
		var tf *transport.TwoFactorRequiredError
		if errors.As(err, &tf) {
			method := account.VerificationSMS
			if tf.Info.TOTPTwoFactorOn {
				method = account.VerificationTOTP
			}
			code, perr := prompt(in, out, "Two-factor code: ")
			if perr != nil {
				return perr
			}
			identifier := tf.Info.TwoFactorIdentifier
			user, err = a.client.TwoFactorLogin(ctx, username, code, identifier, method)
		}
		if err != nil {
			var cp *transport.CheckpointError
			if errors.As(err, &cp) {
				return fmt.Errorf("login needs a checkpoint to be resolved in the official app: %w", err)
			}
			return fmt.Errorf("login failed: %w", err)
		}

		rev, err := a.client.SaveSession(ctx, id)
		if err != nil {
			return fmt.Errorf("logged in but saving the session failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s; session %q saved at revision %d\n", user.Username, id, rev)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	loginCmd.Flags().StringVarP(&loginUsername, "username", "u", "", "Account username")
	loginCmd.Flags().StringVar(&loginSession, "session", "", "Session id to save under (default: username)")
}
