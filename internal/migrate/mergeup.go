package migrate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
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

// MergeUpConfig configures the three-database variant: legacy source ->
// leporid (users, third-party links, images) + usagipass (accounts, ratings,
// preferences).
type MergeUpConfig struct {
	SourceURL    string
	LeporidURL   string
	UsagipassURL string
	BatchSize    int
	DryRun       bool
	// Overrides is the static old-id -> new-id reference table consulted
	// when the live image join cannot resolve a legacy reference. Nil means
	// the embedded table.
	Overrides map[string]string
	// HashPassword produces the credential stored on newly minted users.
	// It is an opaque primitive; the default generates a random secret.
	HashPassword func() string
	Logger       *log.Logger
}

func (cfg *MergeUpConfig) normalize() error {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = shared.DefaultBatchSize
	}
	if cfg.Logger == nil {
		cfg.Logger = shared.NewLogger(nil)
	}
	if cfg.HashPassword == nil {
		cfg.HashPassword = randomSecret
	}
	if cfg.Overrides == nil {
		overrides, err := resolve.EmbeddedOverrides()
		if err != nil {
			return err
		}
		cfg.Overrides = overrides
	}
	return nil
}

// randomSecret returns an unguessable placeholder credential. Migrated users
// authenticate through third-party links, never with this value.
func randomSecret() string {
	buf := make([]byte, 32)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// MergeUp migrates users, third-party links, accounts, ratings, preferences,
// and images across the three databases in dependency order, committing all
// transactions together or none.
func MergeUp(ctx context.Context, cfg MergeUpConfig) (*models.MergeUpSummary, error) {
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	c, err := OpenCoordinator(cfg.Logger,
		EndpointSpec{Name: "source", URL: cfg.SourceURL},
		EndpointSpec{Name: "leporid", URL: cfg.LeporidURL},
		EndpointSpec{Name: "usagipass", URL: cfg.UsagipassURL})
	if err != nil {
		return nil, err
	}
	defer c.Close()

	var summary models.MergeUpSummary
	err = c.Run(ctx, cfg.DryRun, func(ctx context.Context) error {
		r := &mergeUpRun{
			cfg:       cfg,
			logger:    cfg.Logger,
			source:    c.Endpoint("source"),
			leporid:   c.Endpoint("leporid"),
			usagipass: c.Endpoint("usagipass"),
			now:       time.Now().UTC(),
		}
		return r.execute(ctx, &summary)
	})
	if err != nil {
		return nil, err
	}
	return &summary, nil
}

type mergeUpRun struct {
	cfg       MergeUpConfig
	logger    *log.Logger
	source    *Endpoint
	leporid   *Endpoint
	usagipass *Endpoint
	now       time.Time

	migrated  []models.MigratedUser
	serverIDs map[string]int
}

func (r *mergeUpRun) execute(ctx context.Context, summary *models.MergeUpSummary) error {
	r.logger.Info("starting merge-up", "dry_run", r.cfg.DryRun, "batch_size", r.cfg.BatchSize)

	users, err := loadSourceUsers(ctx, r.source, r.now)
	if err != nil {
		return err
	}
	accounts, err := loadSourceAccounts(ctx, r.source, r.now)
	if err != nil {
		return err
	}
	prefs, err := loadSourcePreferences(ctx, r.source)
	if err != nil {
		return err
	}

	accountsByUser := make(map[string][]models.SourceAccount)
	for _, account := range accounts {
		accountsByUser[account.Username] = append(accountsByUser[account.Username], account)
	}
	prefsByUser := make(map[string]models.SourcePreference, len(prefs))
	for _, pref := range prefs {
		prefsByUser[pref.Username] = pref
	}

	// Server identifiers are a hard pre-condition for the accounts section;
	// verifying them up front fails the run before anything is written.
	if r.serverIDs, err = loadServerIDs(ctx, r.usagipass); err != nil {
		return err
	}

	if summary.Users, err = r.migrateUsers(ctx, users, accountsByUser); err != nil {
		return err
	}
	if summary.ThirdParties, err = r.migrateThirdParties(ctx); err != nil {
		return err
	}
	if summary.Accounts, err = r.migrateAccounts(ctx); err != nil {
		return err
	}
	if summary.Ratings, err = r.migrateRatings(ctx); err != nil {
		return err
	}
	if summary.Preferences, err = r.migratePreferences(ctx, prefsByUser); err != nil {
		return err
	}
	if summary.Images, err = r.migrateImages(ctx); err != nil {
		return err
	}
	return nil
}

// migrateUsers assigns every supported source user a target identity: a
// prefixed username derived from the primary account, and a reused or newly
// minted user id. The MigratedUser list it produces drives every later
// section.
func (r *mergeUpRun) migrateUsers(ctx context.Context, users []models.SourceUser, accountsByUser map[string][]models.SourceAccount) (models.SectionResult, error) {
	var summary models.SectionResult

	existing, err := collectUsernames(ctx, r.leporid)
	if err != nil {
		return summary, err
	}
	index := resolve.NewKeyIndex(existing)
	claimed := make(map[string]string)

	batcher := upsert.NewBatcher(r.cfg.BatchSize, func(rows []userRow) error {
		return r.flushUsers(ctx, rows)
	})

	for _, user := range users {
		summary.Processed++

		rule, ok := models.RuleFor(user.PreferServer)
		if !ok {
			summary.Skipped++
			r.logger.Warn("skipping user: unsupported prefer_server",
				"username", user.Username, "prefer_server", user.PreferServer)
			continue
		}

		accounts := accountsByUser[user.Username]
		primary := models.PrimaryAccount(user.PreferServer, accounts)
		if primary == nil {
			summary.Skipped++
			r.logger.Warn("skipping user: no account on preferred server",
				"username", user.Username, "prefer_server", user.PreferServer)
			continue
		}

		// Key derivation happens before reconciliation: the candidate
		// username decides whether this is an insert or an update.
		newUsername := rule.Prefix + primary.AccountName
		if claimant, ok := claimed[newUsername]; ok {
			summary.Skipped++
			r.logger.Warn("skipping user: derived username already claimed this run",
				"username", user.Username, "derived", newUsername, "claimed_by", claimant)
			continue
		}
		claimed[newUsername] = user.Username

		newUserID, existed := index.Resolve(newUsername, shared.GenerateID)
		if existed {
			summary.Updated++
		} else {
			summary.Inserted++
		}

		err := batcher.Add(userRow{
			ID:             newUserID,
			Username:       newUsername,
			HashedPassword: r.cfg.HashPassword(),
			Email:          "",
			Permissions:    "{}",
			CreatedAt:      user.CreatedAt,
			UpdatedAt:      user.UpdatedAt,
		})
		if err != nil {
			return summary, err
		}

		r.migrated = append(r.migrated, models.MigratedUser{
			Source:         user,
			NewUserID:      newUserID,
			NewUsername:    newUsername,
			PrimaryAccount: *primary,
			Accounts:       accounts,
		})
	}

	if err := batcher.Flush(); err != nil {
		return summary, err
	}

	r.logSection("users", summary)
	return summary, nil
}

func (r *mergeUpRun) flushUsers(ctx context.Context, rows []userRow) error {
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
	return r.leporid.Exec(ctx, query, args...)
}

// thirdPartyRow is the tbl_user_third_party payload shape.
type thirdPartyRow struct {
	ID        string
	UserID    string
	Username  string
	Strategy  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r *mergeUpRun) migrateThirdParties(ctx context.Context) (models.SectionResult, error) {
	var summary models.SectionResult

	existing, err := collectThirdPartyKeys(ctx, r.leporid)
	if err != nil {
		return summary, err
	}
	index := resolve.NewKeyIndex(existing)

	batcher := upsert.NewBatcher(r.cfg.BatchSize, func(rows []thirdPartyRow) error {
		return r.flushThirdParties(ctx, rows)
	})

	for _, user := range r.migrated {
		for _, account := range user.Accounts {
			summary.Processed++

			rule, ok := models.RuleFor(account.AccountServer)
			if !ok {
				summary.Skipped++
				r.logger.Warn("skipping third-party link: unsupported server",
					"account", account.AccountName, "server", account.AccountServer)
				continue
			}

			entryID, existed := index.Resolve(thirdPartyKey(account.AccountName, rule.Strategy), shared.GenerateID)
			if existed {
				summary.Updated++
			} else {
				summary.Inserted++
			}

			err := batcher.Add(thirdPartyRow{
				ID:        entryID,
				UserID:    user.NewUserID,
				Username:  account.AccountName,
				Strategy:  rule.Strategy,
				CreatedAt: account.CreatedAt,
				UpdatedAt: account.UpdatedAt,
			})
			if err != nil {
				return summary, err
			}
		}
	}

	if err := batcher.Flush(); err != nil {
		return summary, err
	}

	r.logSection("third-parties", summary)
	return summary, nil
}

func (r *mergeUpRun) flushThirdParties(ctx context.Context, rows []thirdPartyRow) error {
	query := `
		INSERT INTO tbl_user_third_party (id, user_id, username, strategy, created_at, updated_at)
		VALUES ` + placeholders(len(rows), 6) + `
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			username = excluded.username,
			strategy = excluded.strategy,
			updated_at = excluded.updated_at`

	args := make([]any, 0, len(rows)*6)
	for _, row := range rows {
		args = append(args, row.ID, row.UserID, row.Username, row.Strategy,
			row.CreatedAt, row.UpdatedAt)
	}
	return r.leporid.Exec(ctx, query, args...)
}

// accountRow is the tbl_account payload shape.
type accountRow struct {
	ID          string
	UserID      string
	ServerID    int
	Credentials string
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// accountCredentials is the JSON document stored in tbl_account.credentials.
type accountCredentials struct {
	AccountName     string `json:"accountName"`
	AccountPassword string `json:"accountPassword"`
}

func (r *mergeUpRun) migrateAccounts(ctx context.Context) (models.SectionResult, error) {
	var summary models.SectionResult

	existing, err := collectAccountKeys(ctx, r.usagipass)
	if err != nil {
		return summary, err
	}
	index := resolve.NewKeyIndex(existing)

	batcher := upsert.NewBatcher(r.cfg.BatchSize, func(rows []accountRow) error {
		return r.flushAccounts(ctx, rows)
	})

	for _, user := range r.migrated {
		for _, account := range user.Accounts {
			summary.Processed++

			rule, ok := models.RuleFor(account.AccountServer)
			if !ok {
				summary.Skipped++
				r.logger.Warn("skipping account: unsupported server",
					"account", account.AccountName, "server", account.AccountServer)
				continue
			}
			// Presence was verified up front; the map lookup cannot miss.
			serverID := r.serverIDs[rule.Identifier]

			entryID, existed := index.Resolve(accountKey(user.NewUserID, serverID), shared.GenerateID)
			if existed {
				summary.Updated++
			} else {
				summary.Inserted++
			}

			credentials, err := json.Marshal(accountCredentials{
				AccountName:     account.AccountName,
				AccountPassword: account.AccountPassword,
			})
			if err != nil {
				return summary, fmt.Errorf("failed to encode credentials: %w", err)
			}

			err = batcher.Add(accountRow{
				ID:          entryID,
				UserID:      user.NewUserID,
				ServerID:    serverID,
				Credentials: string(credentials),
				Enabled:     true,
				CreatedAt:   account.CreatedAt,
				UpdatedAt:   account.UpdatedAt,
			})
			if err != nil {
				return summary, err
			}
		}
	}

	if err := batcher.Flush(); err != nil {
		return summary, err
	}

	r.logSection("accounts", summary)
	return summary, nil
}

func (r *mergeUpRun) flushAccounts(ctx context.Context, rows []accountRow) error {
	query := `
		INSERT INTO tbl_account (id, user_id, server_id, credentials, enabled, created_at, updated_at)
		VALUES ` + placeholders(len(rows), 7) + `
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			server_id = excluded.server_id,
			credentials = excluded.credentials,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at`

	args := make([]any, 0, len(rows)*7)
	for _, row := range rows {
		args = append(args, row.ID, row.UserID, row.ServerID, row.Credentials,
			row.Enabled, row.CreatedAt, row.UpdatedAt)
	}
	return r.usagipass.Exec(ctx, query, args...)
}

// ratingRow is the tbl_rating payload shape, keyed by user id.
type ratingRow struct {
	UserID     string
	Name       string
	Rating     int
	FriendCode string
	UpdatedAt  time.Time
}

func (r *mergeUpRun) migrateRatings(ctx context.Context) (models.SectionResult, error) {
	var summary models.SectionResult

	existing, err := collectExistingIDs(ctx, r.usagipass, "tbl_rating", "user_id")
	if err != nil {
		return summary, err
	}
	ids := resolve.NewIDSet(existing)

	batcher := upsert.NewBatcher(r.cfg.BatchSize, func(rows []ratingRow) error {
		return r.flushRatings(ctx, rows)
	})

	for _, user := range r.migrated {
		summary.Processed++
		if ids.Seen(user.NewUserID) {
			summary.Updated++
		} else {
			summary.Inserted++
		}

		err := batcher.Add(ratingRow{
			UserID:     user.NewUserID,
			Name:       "",
			Rating:     user.PrimaryAccount.PlayerRating,
			FriendCode: "",
			UpdatedAt:  user.PrimaryAccount.UpdatedAt,
		})
		if err != nil {
			return summary, err
		}
	}

	if err := batcher.Flush(); err != nil {
		return summary, err
	}

	r.logSection("ratings", summary)
	return summary, nil
}

func (r *mergeUpRun) flushRatings(ctx context.Context, rows []ratingRow) error {
	query := `
		INSERT INTO tbl_rating (user_id, name, rating, friend_code, updated_at)
		VALUES ` + placeholders(len(rows), 5) + `
		ON CONFLICT (user_id) DO UPDATE SET
			name = excluded.name,
			rating = excluded.rating,
			friend_code = excluded.friend_code,
			updated_at = excluded.updated_at`

	args := make([]any, 0, len(rows)*5)
	for _, row := range rows {
		args = append(args, row.UserID, row.Name, row.Rating, row.FriendCode, row.UpdatedAt)
	}
	return r.usagipass.Exec(ctx, query, args...)
}

// preferenceRow is the tbl_preference payload shape, keyed by user id.
type preferenceRow struct {
	UserID          string
	MaimaiVersion   string
	SimplifiedCode  string
	CharacterName   string
	FriendCode      string
	DisplayName     string
	DXRating        string
	QRSize          int
	MaskType        int
	PlayerInfoColor string
	CharaInfoColor  string
	ShowDXRating    bool
	ShowDisplayName bool
	ShowFriendCode  bool
	ShowDate        bool
	CharacterID     string
	MaskID          string
	BackgroundID    string
	FrameID         string
	PassnameID      string
}

func (r *mergeUpRun) migratePreferences(ctx context.Context, prefsByUser map[string]models.SourcePreference) (models.SectionResult, error) {
	var summary models.SectionResult

	existing, err := collectExistingIDs(ctx, r.usagipass, "tbl_preference", "user_id")
	if err != nil {
		return summary, err
	}
	ids := resolve.NewIDSet(existing)

	join, err := buildImageJoin(ctx, r.source, r.leporid)
	if err != nil {
		return summary, err
	}
	refs := resolve.NewImageRefs(join, r.cfg.Overrides)

	batcher := upsert.NewBatcher(r.cfg.BatchSize, func(rows []preferenceRow) error {
		return r.flushPreferences(ctx, rows)
	})

	for _, user := range r.migrated {
		summary.Processed++
		if ids.Seen(user.NewUserID) {
			summary.Updated++
		} else {
			summary.Inserted++
		}

		pref, ok := prefsByUser[user.Source.Username]
		if !ok {
			pref = models.DefaultPreference(user.Source.Username)
		}

		if err := batcher.Add(buildPreferenceRow(user, pref, refs)); err != nil {
			return summary, err
		}
	}

	if err := batcher.Flush(); err != nil {
		return summary, err
	}

	r.logSection("preferences", summary)
	return summary, nil
}

// buildPreferenceRow shapes one tbl_preference row, resolving the four
// legacy image references through the two-tier lookup.
func buildPreferenceRow(user models.MigratedUser, pref models.SourcePreference, refs *resolve.ImageRefs) preferenceRow {
	color := pref.CharaInfoColor
	if color == "" {
		color = models.DefaultCharaInfoColor
	}
	return preferenceRow{
		UserID:          user.NewUserID,
		MaimaiVersion:   pref.MaimaiVersion,
		SimplifiedCode:  pref.SimplifiedCode,
		CharacterName:   pref.CharacterName,
		FriendCode:      pref.FriendCode,
		DisplayName:     pref.DisplayName,
		DXRating:        pref.DXRating,
		QRSize:          pref.QRSize,
		MaskType:        pref.MaskType,
		PlayerInfoColor: "#ffffff",
		CharaInfoColor:  color,
		ShowDXRating:    true,
		ShowDisplayName: true,
		ShowFriendCode:  true,
		ShowDate:        pref.ShowDate,
		CharacterID:     refs.Resolve(pref.CharacterID),
		MaskID:          "",
		BackgroundID:    refs.Resolve(pref.BackgroundID),
		FrameID:         refs.Resolve(pref.FrameID),
		PassnameID:      refs.Resolve(pref.PassnameID),
	}
}

func (r *mergeUpRun) flushPreferences(ctx context.Context, rows []preferenceRow) error {
	query := `
		INSERT INTO tbl_preference (user_id, maimai_version, simplified_code, character_name,
			friend_code, display_name, dx_rating, qr_size, mask_type, player_info_color,
			chara_info_color, show_dx_rating, show_display_name, show_friend_code, show_date,
			character_id, mask_id, background_id, frame_id, passname_id)
		VALUES ` + placeholders(len(rows), 20) + `
		ON CONFLICT (user_id) DO UPDATE SET
			maimai_version = excluded.maimai_version,
			simplified_code = excluded.simplified_code,
			character_name = excluded.character_name,
			friend_code = excluded.friend_code,
			display_name = excluded.display_name,
			dx_rating = excluded.dx_rating,
			qr_size = excluded.qr_size,
			mask_type = excluded.mask_type,
			player_info_color = excluded.player_info_color,
			chara_info_color = excluded.chara_info_color,
			show_dx_rating = excluded.show_dx_rating,
			show_display_name = excluded.show_display_name,
			show_friend_code = excluded.show_friend_code,
			show_date = excluded.show_date,
			character_id = excluded.character_id,
			mask_id = excluded.mask_id,
			background_id = excluded.background_id,
			frame_id = excluded.frame_id,
			passname_id = excluded.passname_id`

	args := make([]any, 0, len(rows)*20)
	for _, row := range rows {
		args = append(args, row.UserID, row.MaimaiVersion, row.SimplifiedCode,
			row.CharacterName, row.FriendCode, row.DisplayName, row.DXRating,
			row.QRSize, row.MaskType, row.PlayerInfoColor, row.CharaInfoColor,
			row.ShowDXRating, row.ShowDisplayName, row.ShowFriendCode, row.ShowDate,
			row.CharacterID, row.MaskID, row.BackgroundID, row.FrameID, row.PassnameID)
	}
	return r.usagipass.Exec(ctx, query, args...)
}

// upImageRow is the tbl_image payload of the three-database variant.
type upImageRow struct {
	ID          string
	UserID      string
	AspectID    string
	Name        string
	Description string
	Visibility  int
	Labels      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r *mergeUpRun) migrateImages(ctx context.Context) (models.SectionResult, error) {
	var summary models.SectionResult

	if err := ensureDefaultAspect(ctx, r.leporid, r.logger); err != nil {
		return summary, err
	}

	migratedByUsername := make(map[string]models.MigratedUser, len(r.migrated))
	for _, user := range r.migrated {
		migratedByUsername[user.Source.Username] = user
	}

	existing, err := collectExistingIDs(ctx, r.leporid, "tbl_image", "id")
	if err != nil {
		return summary, err
	}
	ids := resolve.NewIDSet(existing)

	images, err := loadSourceImagesUp(ctx, r.source, r.now)
	if err != nil {
		return summary, err
	}

	batcher := upsert.NewBatcher(r.cfg.BatchSize, func(rows []upImageRow) error {
		return r.flushImages(ctx, rows)
	})

	for _, img := range images {
		summary.Processed++

		user, ok := migratedByUsername[img.UploadedBy]
		if !ok {
			summary.Skipped++
			r.logger.Warn("skipping image: uploader not migrated",
				"image", img.ID, "uploader", img.UploadedBy)
			continue
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

		err = batcher.Add(upImageRow{
			ID:          img.ID,
			UserID:      user.NewUserID,
			AspectID:    aspectID,
			Name:        transform.BuildImageName(img.Label, img.ID),
			Description: transform.BuildImageDescription(img.Label, img.SegaName, img.Kind),
			Visibility:  0,
			Labels:      marshalLabels(transform.BuildImageLabels(img.Kind, "", true)),
			CreatedAt:   img.UploadedAt,
			UpdatedAt:   r.now,
		})
		if err != nil {
			return summary, err
		}
	}

	if err := batcher.Flush(); err != nil {
		return summary, err
	}

	r.logSection("images", summary)
	return summary, nil
}

func (r *mergeUpRun) flushImages(ctx context.Context, rows []upImageRow) error {
	query := `
		INSERT INTO tbl_image (id, user_id, aspect_id, name, description, visibility,
			labels, file_name, metadata_id, created_at, updated_at)
		VALUES ` + placeholders(len(rows), 11) + `
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			aspect_id = excluded.aspect_id,
			name = excluded.name,
			description = excluded.description,
			visibility = excluded.visibility,
			labels = excluded.labels,
			file_name = excluded.file_name,
			metadata_id = excluded.metadata_id,
			updated_at = excluded.updated_at`

	args := make([]any, 0, len(rows)*11)
	for _, row := range rows {
		args = append(args, row.ID, row.UserID, row.AspectID, row.Name, row.Description,
			row.Visibility, row.Labels, nil, nil, row.CreatedAt, row.UpdatedAt)
	}
	return r.leporid.Exec(ctx, query, args...)
}

func (r *mergeUpRun) logSection(name string, summary models.SectionResult) {
	r.logger.Info(name+" section complete",
		"processed", summary.Processed, "inserted", summary.Inserted,
		"updated", summary.Updated, "skipped", summary.Skipped)
}
