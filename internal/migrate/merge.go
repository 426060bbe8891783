package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/leporid/migration-tools/internal/models"
	"github.com/leporid/migration-tools/internal/resolve"
	"github.com/leporid/migration-tools/internal/shared"
	"github.com/leporid/migration-tools/internal/transform"
	"github.com/leporid/migration-tools/internal/upsert"
)

// MergeConfig configures the two-database variant: legacy source -> leporid.
type MergeConfig struct {
	SourceURL string
	TargetURL string
	BatchSize int
	DryRun    bool
	// AdminUserID adopts images uploaded anonymously. It must exist in the
	// target's tbl_user; images without an uploader are skipped when unset.
	AdminUserID string
	Logger      *log.Logger
}

func (cfg *MergeConfig) normalize() {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = shared.DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = shared.NewLogger(nil)
	}
}

// Merge migrates users and images from the legacy database into leporid,
// committing both transactions together or not at all.
func Merge(ctx context.Context, cfg MergeConfig) (*models.MergeSummary, error) {
	cfg.normalize()

	c, err := OpenCoordinator(cfg.Logger,
		EndpointSpec{Name: "source", URL: cfg.SourceURL},
		EndpointSpec{Name: "leporid", URL: cfg.TargetURL})
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var summary models.MergeSummary
	err = c.Run(ctx, cfg.DryRun, func(ctx context.Context) error {
		r := &mergeRun{
			cfg:    cfg,
			logger: cfg.Logger,
			source: c.Endpoint("source"),
			target: c.Endpoint("leporid"),
			now:    time.Now().UTC(),
		}

		cfg.Logger.Info("migrating users and images", "dry_run", cfg.DryRun)
		if summary.Users, err = r.migrateUsers(ctx); err != nil {
			return err
		}
		if summary.Images, err = r.migrateImages(ctx); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

type mergeRun struct {
	cfg    MergeConfig
	logger *log.Logger
	source *Endpoint
	target *Endpoint
	now    time.Time

	// loaded during the users section, reused to resolve image uploaders
	legacyUsers []LegacyUser
}

// userRow is the tbl_user payload shape shared by both variants.
type userRow struct {
	ID             string
	Username       string
	HashedPassword string
	Email          string
	Permissions    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// imageRow is the tbl_image payload of the two-database variant.
type imageRow struct {
	ID           string
	UserID       string
	AspectID     string
	Name         string
	Description  string
	Visibility   int
	Labels       string
	OriginalName string
	OriginalID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func marshalLabels(labels []string) string {
	data, _ := json.Marshal(labels)
	return string(data)
}

func (r *mergeRun) migrateUsers(ctx context.Context) (models.SectionResult, error) {
	var summary models.SectionResult

	existingIDs, err := collectExistingIDs(ctx, r.target, "tbl_user", "id")
	if err != nil {
		return summary, err
	}
	usernames, err := collectUsernames(ctx, r.target)
	if err != nil {
		return summary, err
	}

	users, err := loadLegacyUsers(ctx, r.source, r.now)
	if err != nil {
		return summary, err
	}
	r.legacyUsers = users

	ids := resolve.NewIDSet(existingIDs)
	batcher := upsert.NewBatcher(r.cfg.BatchSize, func(rows []userRow) error {
		return r.flushUsers(ctx, rows)
	})

	for _, u := range users {
		summary.Processed++

		// A username held by a different target id is never overwritten.
		if ownerID, taken := usernames[u.Username]; taken && ownerID != u.ID {
			summary.Skipped++
			r.logger.Warn("skipping user: username taken by a different id",
				"username", u.Username, "owner_id", ownerID)
			continue
		}
		usernames[u.Username] = u.ID

		if ids.Seen(u.ID) {
			summary.Updated++
		} else {
			summary.Inserted++
		}

		err := batcher.Add(userRow{
			ID:             u.ID,
			Username:       u.Username,
			HashedPassword: u.HashedPassword,
			Email:          u.Email,
			Permissions:    "{}",
			CreatedAt:      u.CreatedAt,
			UpdatedAt:      r.now,
		})
		if err != nil {
			return summary, err
		}
	}

	if err := batcher.Flush(); err != nil {
		return summary, err
	}

	r.logger.Info("users section complete",
		"processed", summary.Processed, "inserted", summary.Inserted,
		"updated", summary.Updated, "skipped", summary.Skipped)
	return summary, nil
}

func (r *mergeRun) flushUsers(ctx context.Context, rows []userRow) error {
	query := `
		INSERT INTO tbl_user (id, username, hashed_password, email, permissions, created_at, updated_at)
		VALUES ` + placeholders(len(rows), 7) + `
		ON CONFLICT (id) DO UPDATE SET
			username = excluded.username,
			hashed_password = excluded.hashed_password,
			email = excluded.email,
			updated_at = excluded.updated_at`

	args := make([]any, 0, len(rows)*7)
	for _, row := range rows {
		args = append(args, row.ID, row.Username, row.HashedPassword, row.Email,
			row.Permissions, row.CreatedAt, row.UpdatedAt)
	}
	return r.target.Exec(ctx, query, args...)
}

func (r *mergeRun) migrateImages(ctx context.Context) (models.SectionResult, error) {
	var summary models.SectionResult

	if err := ensureDefaultAspect(ctx, r.target, r.logger); err != nil {
		return summary, err
	}

	// The target may have re-keyed users; resolve uploaders through the
	// username they kept across systems.
	usernameByID := make(map[string]string, len(r.legacyUsers))
	for _, u := range r.legacyUsers {
		usernameByID[u.ID] = u.Username
	}
	targetIDByUsername, err := collectUsernames(ctx, r.target)
	if err != nil {
		return summary, err
	}

	if r.cfg.AdminUserID != "" {
		found := false
		for _, id := range targetIDByUsername {
			if id == r.cfg.AdminUserID {
				found = true
				break
			}
		}
		if !found {
			return summary, fmt.Errorf("%w: %s", shared.ErrAdminUserNotFound, r.cfg.AdminUserID)
		}
	}

	existingIDs, err := collectExistingIDs(ctx, r.target, "tbl_image", "id")
	if err != nil {
		return summary, err
	}
	ids := resolve.NewIDSet(existingIDs)

	images, err := loadLegacyImages(ctx, r.source, r.now)
	if err != nil {
		return summary, err
	}

	batcher := upsert.NewBatcher(r.cfg.BatchSize, func(rows []imageRow) error {
		return r.flushImages(ctx, rows)
	})

	for _, img := range images {
		summary.Processed++

		var userID string
		var visibility int
		workshop := img.UploadedBy != ""
		if !workshop {
			if r.cfg.AdminUserID == "" {
				summary.Skipped++
				r.logger.Warn("skipping image: no uploader and no admin user configured", "image", img.ID)
				continue
			}
			userID = r.cfg.AdminUserID
			visibility = 1
		} else {
			username, ok := usernameByID[img.UploadedBy]
			if !ok {
				summary.Skipped++
				r.logger.Warn("skipping image: uploader missing from source users",
					"image", img.ID, "uploader", img.UploadedBy)
				continue
			}
			targetID, ok := targetIDByUsername[username]
			if !ok {
				summary.Skipped++
				r.logger.Warn("skipping image: uploader username missing from target",
					"image", img.ID, "username", username)
				continue
			}
			userID = targetID
		}

		aspectID, err := transform.DeriveAspectID(img.Kind)
		if err != nil {
			if errors.Is(err, shared.ErrUnknownAspect) {
				summary.Skipped++
				r.logger.Warn("skipping image", "image", img.ID, "err", err)
				continue
			}
			return summary, err
		}

		if ids.Seen(img.ID) {
			summary.Updated++
		} else {
			summary.Inserted++
		}

		err = batcher.Add(imageRow{
			ID:           img.ID,
			UserID:       userID,
			AspectID:     aspectID,
			Name:         transform.BuildImageName(img.Label, img.TraceID),
			Description:  "",
			Visibility:   visibility,
			Labels:       marshalLabels(transform.BuildImageLabels(img.Kind, img.Category, workshop)),
			OriginalName: img.FileName,
			OriginalID:   img.TraceID,
			CreatedAt:    img.UploadedAt,
			UpdatedAt:    r.now,
		})
		if err != nil {
			return summary, err
		}
	}

	if err := batcher.Flush(); err != nil {
		return summary, err
	}

	r.logger.Info("images section complete",
		"processed", summary.Processed, "inserted", summary.Inserted,
		"updated", summary.Updated, "skipped", summary.Skipped)
	return summary, nil
}

func (r *mergeRun) flushImages(ctx context.Context, rows []imageRow) error {
	query := `
		INSERT INTO tbl_image (id, user_id, aspect_id, name, description, visibility,
			labels, original_name, original_id, created_at, updated_at)
		VALUES ` + placeholders(len(rows), 11) + `
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			aspect_id = excluded.aspect_id,
			name = excluded.name,
			description = excluded.description,
			visibility = excluded.visibility,
			labels = excluded.labels,
			original_name = excluded.original_name,
			original_id = excluded.original_id,
			updated_at = excluded.updated_at`

	args := make([]any, 0, len(rows)*11)
	for _, row := range rows {
		args = append(args, row.ID, row.UserID, row.AspectID, row.Name, row.Description,
			row.Visibility, row.Labels, row.OriginalName, row.OriginalID,
			row.CreatedAt, row.UpdatedAt)
	}
	return r.target.Exec(ctx, query, args...)
}
