// Package copyimg relocates migrated image files between asset directories.
// It reads the authoritative id list from the target database and copies one
// {id}.webp file per row, so only images that survived the database migration
// are carried over.
package copyimg

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/leporid/migration-tools/internal/shared"
)

// Config describes one copy run. The database at DatabaseURL provides the id
// list; files move from SourceDir to TargetDir.
type Config struct {
	SourceDir   string
	TargetDir   string
	DatabaseURL string
	// Overwrite replaces files already present in the target directory.
	// The default keeps existing files and counts them as skipped.
	Overwrite bool
	Logger    *log.Logger
}

// Stats reports the outcome of a copy run, one count per image row.
type Stats struct {
	Processed       int
	Copied          int
	SkippedMissing  int
	SkippedExisting int
}

// Run copies every migrated image file named by the database. A missing
// source directory fails the run before anything is copied; missing
// individual files are counted and skipped.
func Run(ctx context.Context, cfg Config) (*Stats, error) {
	if cfg.Logger == nil {
		cfg.Logger = shared.NewLogger(nil)
	}

	info, err := os.Stat(cfg.SourceDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", shared.ErrMissingSourceDir, cfg.SourceDir)
	}
	if err := os.MkdirAll(cfg.TargetDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create target directory: %w", err)
	}

	db, err := shared.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	ids, err := loadImageIDs(ctx, db)
	if err != nil {
		return nil, err
	}
	cfg.Logger.Info("copying image files", "images", len(ids),
		"source", cfg.SourceDir, "target", cfg.TargetDir)

	stats := &Stats{}
	for _, id := range ids {
		stats.Processed++
		name := id + ".webp"
		src := filepath.Join(cfg.SourceDir, name)
		dst := filepath.Join(cfg.TargetDir, name)

		if _, err := os.Stat(src); err != nil {
			stats.SkippedMissing++
			cfg.Logger.Warn("skipping image: source file missing", "file", name)
			continue
		}
		if !cfg.Overwrite {
			if _, err := os.Stat(dst); err == nil {
				stats.SkippedExisting++
				continue
			}
		}

		if err := copyFile(src, dst); err != nil {
			return stats, fmt.Errorf("failed to copy %s: %w", name, err)
		}
		stats.Copied++
	}

	cfg.Logger.Info("copy complete", "processed", stats.Processed, "copied", stats.Copied,
		"missing", stats.SkippedMissing, "existing", stats.SkippedExisting)
	return stats, nil
}

func loadImageIDs(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT id FROM tbl_image ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tbl_image: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tbl_image row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
