package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/k-code-yt/gogo-lamp/internal/app"
	"github.com/k-code-yt/gogo-lamp/internal/clock"
	"github.com/k-code-yt/gogo-lamp/internal/config"
	"github.com/k-code-yt/gogo-lamp/internal/payment/store"
	"github.com/k-code-yt/gogo-lamp/internal/viewer"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "lamp",
		Short:         "Payment lamp - real-time payment notifications",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "environment file")

	rootCmd.AddCommand(serveCmd(&envFile))
	rootCmd.AddCommand(migrateCmd(&envFile))
	rootCmd.AddCommand(viewCmd(&envFile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(envFile string) (*config.Config, error) {
	cfg, err := config.New(envFile)
	if err != nil {
		return nil, err
	}
	if err := config.SetupLogging(cfg.App); err != nil {
		return nil, err
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func serveCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook receiver and viewer broadcast server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}

			a := &app.App{}
			if err := a.Initialize(cfg); err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			return a.Run(ctx)
		},
	}
}

func migrateCmd(envFile *string) *cobra.Command {
	var steps int
	cmd := &cobra.Command{
		Use:       "migrate [up|down|version]",
		Short:     "Apply the payments schema to Postgres",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}

			action := store.MigrateAction_Up
			if len(args) == 1 {
				action = store.MigrateAction(args[0])
			}
			return store.Migrate(cfg.Postgres.URL(), action, steps)
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 0, "number of migrations to roll back (down only)")
	return cmd
}

func viewCmd(envFile *string) *cobra.Command {
	var serverURL string
	var interactive bool
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Follow the payment feed and drive a lamp in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			if serverURL == "" {
				serverURL = "http://localhost:" + cfg.App.Port
			}

			lamp := viewer.NewLamp(clock.Real(), viewer.Timings{
				Activation:  cfg.Lamp.ActivationDuration,
				Dwell:       cfg.Lamp.DwellDuration,
				Cooldown:    cfg.Lamp.CooldownDuration,
				HistorySize: cfg.Lamp.HistorySize,
			})
			lamp.OnChange(viewer.LogTransitions)

			client, err := viewer.NewClient(serverURL, lamp)
			if err != nil {
				return err
			}

			ctx, stop := signalContext()
			defer stop()
			if interactive {
				logrus.Info("commands: r = reset lamp, s = simulate payment")
				go client.HandleCommands(ctx, os.Stdin)
			}
			return client.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "server base url (default http://localhost:$APP_PORT)")
	cmd.Flags().BoolVar(&interactive, "interactive", true, "read r/s commands from stdin")
	return cmd
}
