package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"promanchat/internal/app"
	"promanchat/internal/config"
	"promanchat/internal/database"
)

type options struct {
	configPath string
	seedDemo   bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("promanchat", flag.ContinueOnError)
	fs.SetOutput(stderr)
	opts := &options{}
	fs.StringVar(&opts.configPath, "config", os.Getenv(config.EnvPrefix+"CONFIG_FILE"), "path to a JSON config file")
	fs.BoolVar(&opts.seedDemo, "seed-demo", false, "create demo users, a project and its chat, then print their ids")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run loads configuration, builds the application and serves until SIGINT
// or SIGTERM.
func run(args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg, stdout)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.NewApplication(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	if opts.seedDemo {
		if err := seedDemo(ctx, application, logger); err != nil {
			_ = application.Close(context.Background())
			return err
		}
	}

	return application.Run(ctx)
}

func seedDemo(ctx context.Context, application *app.Application, logger zerolog.Logger) error {
	fx, err := database.SeedDemo(ctx, application.Seeder())
	if err != nil {
		return fmt.Errorf("failed to seed demo data: %w", err)
	}
	logger.Info().
		Str("chat_id", fx.ChatID).
		Str("project_id", fx.ProjectID).
		Str("owner_id", fx.OwnerID).
		Str("member_id", fx.MemberID).
		Str("supervisor_id", fx.SupervisorID).
		Str("outsider_id", fx.OutsiderID).
		Str("file_id", fx.FileID).
		Msg("demo data seeded")
	return nil
}
