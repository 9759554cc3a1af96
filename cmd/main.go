package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"dcmigrate/internal/app"
	"dcmigrate/internal/config"
	"dcmigrate/internal/logger"
	"dcmigrate/internal/modal"
	"dcmigrate/internal/progress"
	"dcmigrate/internal/stage"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "dcmigrate",
	Short: "Migrate a self-hosted application installation to object storage",
	Long: `A staged migration service: provisions the migration stack, copies the
application home directory, exports and uploads the database, and tracks the
migration through a validated stage machine.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the migration service (API, metrics and phase jobs)",
	RunE:  runServe,
}

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Print the current migration stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(_ context.Context, m *app.Migrator, _ *zap.Logger) error {
			current, err := m.CurrentStage()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(current))
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Create a new migration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(_ context.Context, m *app.Migrator, _ *zap.Logger) error {
			created, err := m.StartMigration()
			if err != nil {
				return err
			}
			if !created {
				return fmt.Errorf("a migration already exists")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration created")
			return nil
		})
	},
}

var transitionCmd = &cobra.Command{
	Use:   "transition FROM TO",
	Short: "Move the migration from one stage to another",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := stage.Parse(args[0])
		if err != nil {
			return err
		}
		to, err := stage.Parse(args[1])
		if err != nil {
			return err
		}
		return withMigrator(cmd, func(_ context.Context, m *app.Migrator, _ *zap.Logger) error {
			return m.RequestTransition(from, to)
		})
	},
}

var modeCmd = &cobra.Command{
	Use:   "mode [MODE]",
	Short: "Show or change the operating mode",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd, func(_ context.Context, m *app.Migrator, _ *zap.Logger) error {
			if len(args) == 1 {
				mode, err := modal.ParseMode(args[0])
				if err != nil {
					return err
				}
				return m.SetMode(mode)
			}
			mode, err := m.Mode()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), mode)
			return nil
		})
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the migration record and file checkpoints",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withMigrator(cmd, func(_ context.Context, m *app.Migrator, _ *zap.Logger) error {
			return m.Reset()
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload DIR",
	Short: "Upload a directory to the target without a migration",
	Args:  cobra.ExactArgs(1),
	RunE:  runUpload,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is ./config.yaml)")
	config.RegisterFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(serveCmd, stageCmd, startCmd, transitionCmd, modeCmd, resetCmd, uploadCmd)
}

func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	// Load configuration
	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext(log *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, gracefully stopping...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()
	return ctx, cancel
}

func withMigrator(cmd *cobra.Command, fn func(context.Context, *app.Migrator, *zap.Logger) error) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	// Create application
	migrator, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	err = fn(ctx, migrator, log)

	// Close migrator resources after the command completes or is cancelled
	if closeErr := migrator.Close(); closeErr != nil {
		log.Error("Error closing migrator", zap.Error(closeErr))
	}
	return err
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(ctx context.Context, m *app.Migrator, _ *zap.Logger) error {
		return m.Run(ctx)
	})
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signalContext(log)
	defer cancel()

	out := cmd.OutOrStdout()
	if !progress.IsTerminalSupported() {
		log.Info("Progress display disabled (unsupported terminal)")
		out = nil
	}

	snapshot, err := app.UploadDirectory(ctx, cfg, log, args[0], out)
	if err != nil {
		return err
	}
	if snapshot.ErrorCount > 0 {
		return fmt.Errorf("%d files failed to upload", snapshot.ErrorCount)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
