package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/leporid/migration-tools/internal/models"
	"github.com/leporid/migration-tools/internal/transform"
)

// LegacyUser is a row from the two-database variant's users table, which is
// keyed by id rather than username.
type LegacyUser struct {
	ID             string
	Username       string
	HashedPassword string
	Email          string
	CreatedAt      time.Time
}

// loadLegacyUsers streams the source users of the two-database variant in
// primary-key order.
func loadLegacyUsers(ctx context.Context, src *Endpoint, now time.Time) ([]LegacyUser, error) {
	rows, err := src.Query(ctx, `
		SELECT id, username, hashed_password, email, created_at
		FROM users
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []LegacyUser
	for rows.Next() {
		var u LegacyUser
		var email sql.NullString
		var createdAt sql.NullTime
		if err := rows.Scan(&u.ID, &u.Username, &u.HashedPassword, &email, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan users row: %w", err)
		}
		u.Email = email.String
		u.CreatedAt = transform.NormalizeTime(createdAt.Time, now)
		users = append(users, u)
	}
	return users, rows.Err()
}

// loadSourceUsers streams the merge-up source users ordered by username.
// Provider tags are normalized to upper case here, once.
func loadSourceUsers(ctx context.Context, src *Endpoint, now time.Time) ([]models.SourceUser, error) {
	rows, err := src.Query(ctx, `
		SELECT username, prefer_server, created_at, updated_at
		FROM users
		ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.SourceUser
	for rows.Next() {
		var u models.SourceUser
		var prefer sql.NullString
		var createdAt, updatedAt sql.NullTime
		if err := rows.Scan(&u.Username, &prefer, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan users row: %w", err)
		}
		u.PreferServer = strings.ToUpper(prefer.String)
		u.CreatedAt = transform.NormalizeTime(createdAt.Time, now)
		u.UpdatedAt = transform.NormalizeTime(updatedAt.Time, now)
		users = append(users, u)
	}
	return users, rows.Err()
}

// loadSourceAccounts streams all legacy game accounts ordered by owner then
// provider tag.
func loadSourceAccounts(ctx context.Context, src *Endpoint, now time.Time) ([]models.SourceAccount, error) {
	rows, err := src.Query(ctx, `
		SELECT username, account_name, account_server, account_password,
		       nickname, bind_qq, player_rating, created_at, updated_at
		FROM user_accounts
		ORDER BY username, account_server`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.SourceAccount
	for rows.Next() {
		var a models.SourceAccount
		var server, nickname, bindQQ sql.NullString
		var rating sql.NullInt64
		var createdAt, updatedAt sql.NullTime
		if err := rows.Scan(&a.Username, &a.AccountName, &server, &a.AccountPassword,
			&nickname, &bindQQ, &rating, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user_accounts row: %w", err)
		}
		a.AccountServer = strings.ToUpper(server.String)
		a.Nickname = nickname.String
		a.BindQQ = bindQQ.String
		a.PlayerRating = int(rating.Int64)
		a.CreatedAt = transform.NormalizeTime(createdAt.Time, now)
		a.UpdatedAt = transform.NormalizeTime(updatedAt.Time, now)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// loadSourcePreferences streams the legacy cosmetic settings, one row per
// user at most, with legacy NULLs normalized to the documented defaults.
func loadSourcePreferences(ctx context.Context, src *Endpoint) ([]models.SourcePreference, error) {
	rows, err := src.Query(ctx, `
		SELECT username, maimai_version, simplified_code, character_name,
		       friend_code, display_name, dx_rating, qr_size, mask_type,
		       character_id, background_id, frame_id, passname_id,
		       chara_info_color, show_date
		FROM user_preferences
		ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prefs []models.SourcePreference
	for rows.Next() {
		var p models.SourcePreference
		var version, code, charName, friendCode, displayName, dxRating sql.NullString
		var charID, bgID, frameID, passID, color sql.NullString
		var qrSize, maskType sql.NullInt64
		var showDate any
		if err := rows.Scan(&p.Username, &version, &code, &charName, &friendCode,
			&displayName, &dxRating, &qrSize, &maskType,
			&charID, &bgID, &frameID, &passID, &color, &showDate); err != nil {
			return nil, fmt.Errorf("failed to scan user_preferences row: %w", err)
		}
		p.MaimaiVersion = version.String
		p.SimplifiedCode = code.String
		p.CharacterName = charName.String
		p.FriendCode = friendCode.String
		p.DisplayName = displayName.String
		p.DXRating = dxRating.String
		p.QRSize = int(qrSize.Int64)
		if p.QRSize == 0 {
			p.QRSize = 15
		}
		p.MaskType = int(maskType.Int64)
		p.CharacterID = charID.String
		p.BackgroundID = bgID.String
		p.FrameID = frameID.String
		p.PassnameID = passID.String
		p.CharaInfoColor = color.String
		if p.CharaInfoColor == "" {
			p.CharaInfoColor = models.DefaultCharaInfoColor
		}
		p.ShowDate = transform.CoerceBool(showDate, true)
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// loadSourceImagesUp streams merge-up source images. Rows without an
// uploader are excluded at the query level; ordering is upload time then id.
func loadSourceImagesUp(ctx context.Context, src *Endpoint, now time.Time) ([]models.SourceImage, error) {
	rows, err := src.Query(ctx, `
		SELECT id, name, kind, sega_name, uploaded_by, uploaded_at
		FROM images
		WHERE uploaded_by IS NOT NULL
		ORDER BY uploaded_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []models.SourceImage
	for rows.Next() {
		var img models.SourceImage
		var name, kind, segaName sql.NullString
		var uploadedAt sql.NullTime
		if err := rows.Scan(&img.ID, &name, &kind, &segaName, &img.UploadedBy, &uploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan images row: %w", err)
		}
		img.Label = name.String
		img.Kind = kind.String
		img.SegaName = segaName.String
		img.UploadedAt = transform.NormalizeTime(uploadedAt.Time, now)
		images = append(images, img)
	}
	return images, rows.Err()
}

// loadLegacyImages streams the two-database variant's source images, which
// carry a uuid key plus category and trace metadata.
func loadLegacyImages(ctx context.Context, src *Endpoint, now time.Time) ([]models.SourceImage, error) {
	rows, err := src.Query(ctx, `
		SELECT uuid, kind, label, file_name, uploaded_by, uploaded_at, category, trace_id
		FROM images
		ORDER BY uploaded_at, uuid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []models.SourceImage
	for rows.Next() {
		var img models.SourceImage
		var kind, label, fileName, uploadedBy, category, traceID sql.NullString
		var uploadedAt sql.NullTime
		if err := rows.Scan(&img.ID, &kind, &label, &fileName, &uploadedBy,
			&uploadedAt, &category, &traceID); err != nil {
			return nil, fmt.Errorf("failed to scan images row: %w", err)
		}
		img.Kind = kind.String
		img.Label = label.String
		img.FileName = fileName.String
		img.UploadedBy = uploadedBy.String
		img.Category = category.String
		img.TraceID = traceID.String
		img.UploadedAt = transform.NormalizeTime(uploadedAt.Time, now)
		images = append(images, img)
	}
	return images, rows.Err()
}

// loadImageSegaNames maps source image id -> sega name for rows that carry
// one. It feeds the join tier of the image-reference resolver.
func loadImageSegaNames(ctx context.Context, src *Endpoint) (map[string]string, error) {
	rows, err := src.Query(ctx, `SELECT id, sega_name FROM images ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]string)
	for rows.Next() {
		var id string
		var segaName sql.NullString
		if err := rows.Scan(&id, &segaName); err != nil {
			return nil, fmt.Errorf("failed to scan images row: %w", err)
		}
		if segaName.String != "" {
			byID[id] = segaName.String
		}
	}
	return byID, rows.Err()
}
