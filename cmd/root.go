package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/takutakahashi/portalgate/pkg/config"
	"github.com/takutakahashi/portalgate/pkg/logger"
	"github.com/takutakahashi/portalgate/pkg/userdir"
)

// rootOptions carries the persistent flags and the viper instance they are
// bound to
type rootOptions struct {
	configFile string
	verbose    bool
	v          *viper.Viper
}

// NewRootCmd builds the portalgate command tree
func NewRootCmd() *cobra.Command {
	o := &rootOptions{v: config.New()}

	rootCmd := &cobra.Command{
		Use:   "portalgate",
		Short: "Portal session gateway",
		Long: `Sign in to the portal backend, keep the session tokens on this machine and
send signed requests that renew the access token when it expires.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&o.configFile, "config", "c", "", "Configuration file path (default $PORTALGATE_HOME/config.yaml)")
	flags.String("base-url", "", "Backend API base URL")
	flags.String("profile", "", "Profile whose tokens are used")
	flags.BoolVarP(&o.verbose, "verbose", "v", false, "Enable verbose logging")

	// Bind flags to viper
	if err := o.v.BindPFlag("base_url", flags.Lookup("base-url")); err != nil {
		panic(err)
	}
	if err := o.v.BindPFlag("profile", flags.Lookup("profile")); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(newLoginCmd(o))
	rootCmd.AddCommand(newLogoutCmd(o))
	rootCmd.AddCommand(newWhoamiCmd(o))
	rootCmd.AddCommand(newRegisterCmd(o))
	rootCmd.AddCommand(newRequestCmd(o))
	rootCmd.AddCommand(newRouteCmd(o))
	rootCmd.AddCommand(newProfilesCmd(o))
	rootCmd.AddCommand(newDevServerCmd(o))

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// load reads the configuration and builds the command logger
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	configFile, required := o.configFile, true
	if configFile == "" {
		configFile, required = userdir.NewManager("").ConfigFile(), false
	}

	cfg, err := config.Load(o.v, configFile, required)
	if err != nil {
		return nil, nil, err
	}

	level := cfg.Log.Level
	if o.verbose {
		level = "debug"
	}
	log := logger.New(logger.Options{Level: level, Format: cfg.Log.Format, Writer: cmd.ErrOrStderr()})
	log.Debug("configuration loaded", "base_url", cfg.BaseURL, "profile", cfg.Profile, "token_store", cfg.TokenStore.Type)

	return cfg, log, nil
}

func printf(cmd *cobra.Command, format string, a ...interface{}) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, a...)
}
