package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/takutakahashi/portalgate/internal/devbackend"
	"github.com/takutakahashi/portalgate/internal/domain/entities"
)

type seedAccount struct {
	Username string
	Password string
	Role     entities.Role
}

// parseSeed parses user:password:role
func parseSeed(s string) (seedAccount, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return seedAccount{}, fmt.Errorf("invalid seed %q, want user:password:role", s)
	}
	role, err := entities.ParseRole(parts[2])
	if err != nil {
		return seedAccount{}, fmt.Errorf("invalid seed %q: %w", s, err)
	}
	return seedAccount{Username: parts[0], Password: parts[1], Role: role}, nil
}

func newDevServerCmd(o *rootOptions) *cobra.Command {
	var seeds []string

	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run a local development backend",
		Long: `Run an in-memory backend that serves the token, refresh, identity,
registration and logout endpoints under /api.

Examples:
  portalgate devserver --seed alice:correct:student --seed root:toor:admin`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			accounts := make([]seedAccount, 0, len(seeds))
			for _, s := range seeds {
				a, err := parseSeed(s)
				if err != nil {
					return err
				}
				accounts = append(accounts, a)
			}

			cfg, log, err := o.load(cmd)
			if err != nil {
				return err
			}

			server, err := devbackend.New(devbackend.Config{
				Secret:        cfg.DevServer.Secret,
				AccessTTL:     cfg.DevServer.AccessTTL,
				RefreshTTL:    cfg.DevServer.RefreshTTL,
				RotateRefresh: cfg.DevServer.RotateRefresh,
				Logger:        log,
			})
			if err != nil {
				return err
			}
			for _, a := range accounts {
				if _, err := server.Seed(a.Username, a.Password, a.Role); err != nil {
					return fmt.Errorf("failed to seed %s: %w", a.Username, err)
				}
				log.Info("seeded account", "username", a.Username, "role", a.Role)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start(cfg.DevServer.Addr)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			log.Info("shutdown signal received, shutting down gracefully")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (default 127.0.0.1:8000)")
	cmd.Flags().StringArrayVar(&seeds, "seed", nil, "Account to create, as user:password:role (repeatable)")
	if err := o.v.BindPFlag("devserver.addr", cmd.Flags().Lookup("addr")); err != nil {
		panic(err)
	}
	return cmd
}
