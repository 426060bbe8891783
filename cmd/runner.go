package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/leporid/migration-tools/internal/copyimg"
	"github.com/leporid/migration-tools/internal/migrate"
	"github.com/leporid/migration-tools/internal/resolve"
	"github.com/leporid/migration-tools/internal/shared"
	"github.com/leporid/migration-tools/internal/ui"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config *shared.Config
	logger *log.Logger
	output io.Writer
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config *shared.Config
	Logger *log.Logger
	Output io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	return &Runner{
		config: opts.Config,
		logger: opts.Logger,
		output: opts.Output,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, mergeCommand, mergeUpCommand, copyImgCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// runConfig returns the effective configuration for one invocation: the
// explicitly flagged file when given, otherwise the config loaded at startup.
func (r *Runner) runConfig(cmd *cli.Command) *shared.Config {
	if cmd.Bool("verbose") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}
	if !cmd.IsSet("config") {
		return r.config
	}

	config, err := shared.LoadConfig(cmd.String("config"))
	if err != nil {
		r.logger.Warn("failed to load config, using startup configuration", "error", err)
		return r.config
	}
	return config
}

func pick(flag, fallback string) string {
	if flag != "" {
		return flag
	}
	return fallback
}

func pickInt(flag, fallback int) int {
	if flag > 0 {
		return flag
	}
	return fallback
}

// Merge migrates users and images from the legacy database into leporid.
func (r *Runner) Merge(ctx context.Context, cmd *cli.Command) error {
	config := r.runConfig(cmd)
	dryRun := cmd.Bool("dry-run") || config.Migration.DryRun

	summary, err := migrate.Merge(ctx, migrate.MergeConfig{
		SourceURL:   pick(cmd.String("source"), config.Databases.Source),
		TargetURL:   pick(cmd.String("leporid"), config.Databases.Leporid),
		BatchSize:   pickInt(cmd.Int("batch-size"), config.Migration.BatchSize),
		DryRun:      dryRun,
		AdminUserID: pick(cmd.String("admin-user-id"), config.Migration.AdminUserID),
		Logger:      r.logger,
	})
	if err != nil {
		return err
	}

	r.writePlain("%s", ui.RenderSummary("Merge summary", []ui.Section{
		{Name: "users", Result: summary.Users},
		{Name: "images", Result: summary.Images},
	}))
	if dryRun {
		r.writePlain("%s", ui.RenderDryRunNote())
	}
	return nil
}

// MergeUp migrates users, third-party links, accounts, ratings, preferences
// and images across the three databases.
func (r *Runner) MergeUp(ctx context.Context, cmd *cli.Command) error {
	config := r.runConfig(cmd)
	dryRun := cmd.Bool("dry-run") || config.Migration.DryRun

	// Nil overrides select the embedded mapping inside the engine.
	var overrides map[string]string
	if path := pick(cmd.String("mapping"), config.Migration.MappingPath); path != "" {
		var err error
		if overrides, err = resolve.LoadOverridesFile(path); err != nil {
			return err
		}
		r.logger.Info("loaded image-reference overrides", "path", path, "entries", len(overrides))
	}

	summary, err := migrate.MergeUp(ctx, migrate.MergeUpConfig{
		SourceURL:    pick(cmd.String("source"), config.Databases.Source),
		LeporidURL:   pick(cmd.String("leporid"), config.Databases.Leporid),
		UsagipassURL: pick(cmd.String("usagipass"), config.Databases.Usagipass),
		BatchSize:    pickInt(cmd.Int("batch-size"), config.Migration.BatchSize),
		DryRun:       dryRun,
		Overrides:    overrides,
		Logger:       r.logger,
	})
	if err != nil {
		return err
	}

	r.writePlain("%s", ui.RenderSummary("Merge-up summary", []ui.Section{
		{Name: "users", Result: summary.Users},
		{Name: "third parties", Result: summary.ThirdParties},
		{Name: "accounts", Result: summary.Accounts},
		{Name: "ratings", Result: summary.Ratings},
		{Name: "preferences", Result: summary.Preferences},
		{Name: "images", Result: summary.Images},
	}))
	if dryRun {
		r.writePlain("%s", ui.RenderDryRunNote())
	}
	return nil
}

// CopyImg copies the image files behind migrated tbl_image rows.
func (r *Runner) CopyImg(ctx context.Context, cmd *cli.Command) error {
	config := r.runConfig(cmd)

	stats, err := copyimg.Run(ctx, copyimg.Config{
		SourceDir:   pick(cmd.String("source-dir"), config.Assets.SourceDir),
		TargetDir:   pick(cmd.String("target-dir"), config.Assets.TargetDir),
		DatabaseURL: pick(cmd.String("leporid"), config.Databases.Leporid),
		Overwrite:   cmd.Bool("overwrite") || config.Assets.Overwrite,
		Logger:      r.logger,
	})
	if err != nil {
		return err
	}

	r.writePlain("%s", ui.RenderCopySummary(stats.Processed, stats.Copied, stats.SkippedMissing, stats.SkippedExisting))
	return nil
}

// Setup writes a starter configuration file from the embedded template.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")
	if err := shared.CreateConfigFile(configPath); err != nil {
		return err
	}
	r.logger.Info("config file created", "path", configPath)
	r.writePlain("Edit %s with your database URLs, then run 'migration-tools merge' or 'merge-up'.\n", configPath)
	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
