package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const exportPassphraseEnv = "IRONWIRE_EXPORT_PASSPHRASE"

var (
	exportOut        string
	exportPassphrase string
	importID         string
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored sessions",
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored session ids",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		ids, err := store.List(cmd.Context())
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(cmd.OutOrStdout(), id)
		}
		return nil
	},
}

type sessionSummary struct {
	ID       string `json:"id"`
	LoggedIn bool   `json:"logged_in"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	DeviceID string `json:"device_id"`
	Valid    *bool  `json:"valid,omitempty"`
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a stored session; --validate also asks the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, args[0])
		if err != nil {
			return err
		}
		defer a.Close(ctx)
		if err := a.client.LoadSession(ctx, args[0]); err != nil {
			return err
		}

		st := a.client.State()
		sum := sessionSummary{ID: args[0], LoggedIn: st.HasValidSession(), DeviceID: st.Device().DeviceID}
		sum.UserID, _ = st.UserID()
		sum.Username, _ = st.Username()
		if validate, _ := cmd.Flags().GetBool("validate"); validate {
			ok, err := a.client.IsSessionValid(ctx)
			if err != nil {
				return err
			}
			sum.Valid = &ok
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	},
}

var sessionDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a stored session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer closeStore()
		return store.Delete(cmd.Context(), args[0])
	},
}

var sessionExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a stored session sealed under a passphrase",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		passphrase, err := secretFrom(exportPassphrase, exportPassphraseEnv)
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, args[0])
		if err != nil {
			return err
		}
		defer a.Close(ctx)
		if err := a.client.LoadSession(ctx, args[0]); err != nil {
			return err
		}
		sealed, err := a.client.ExportSession(passphrase)
		if err != nil {
			return err
		}
		if exportOut == "" || exportOut == "-" {
			_, err = cmd.OutOrStdout().Write(sealed)
			return err
		}
		return os.WriteFile(exportOut, sealed, 0o600)
	},
}

var sessionImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a session produced by export and save it to the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		passphrase, err := secretFrom(exportPassphrase, exportPassphraseEnv)
		if err != nil {
			return err
		}
		sealed, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		a, err := newApp(ctx, cfg, importID)
		if err != nil {
			return err
		}
		defer a.Close(ctx)
		if err := a.client.ImportSession(ctx, sealed, passphrase); err != nil {
			return err
		}
		rev, err := a.client.SaveSession(ctx, importID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported session saved at revision %d\n", rev)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionListCmd, sessionShowCmd, sessionDeleteCmd, sessionExportCmd, sessionImportCmd)

	sessionShowCmd.Flags().Bool("validate", false, "Probe the server to check the session is accepted")

	sessionExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Write to file instead of stdout")
	for _, c := range []*cobra.Command{sessionExportCmd, sessionImportCmd} {
		c.Flags().StringVar(&exportPassphrase, "passphrase", "", "Export passphrase (or set "+exportPassphraseEnv+")")
	}
	sessionImportCmd.Flags().StringVar(&importID, "id", "", "Session id to save under (default: username)")
}
