package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmcleod/ironwire/internal/config"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	cfgFile string
	v       = config.New()
	cfg     *config.Config
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ironwire",
	Short: "ironwire drives a private mobile API session",
	Long: `Log in, persist encrypted sessions and relay realtime events for a
mobile API account. Configuration is read from --config, a .env file and
IRONWIRE_* environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger = newLogger(cfg, cmd.ErrOrStderr())
		slog.SetDefault(logger)
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// bindFlag ties a flag to a config key so the flag wins when set.
func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		f = cmd.PersistentFlags().Lookup(name)
	}
	if err := v.BindPFlag(key, f); err != nil {
		panic(err)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Path to a config file (yaml, json or toml)")
	pf.String("data-dir", "./data", "Directory for persistent data")
	pf.String("store-backend", config.BackendBolt, "Session store: bbolt, sqlite, postgres or memory")
	pf.String("log-level", "info", "Log level: debug, info, warn or error")
	pf.String("log-format", "text", "Log format: text or json")
	bindFlag(v, "data_dir", rootCmd, "data-dir")
	bindFlag(v, "store_backend", rootCmd, "store-backend")
	bindFlag(v, "log_level", rootCmd, "log-level")
	bindFlag(v, "log_format", rootCmd, "log-format")
}
