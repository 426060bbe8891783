package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/leporid/migration-tools/internal/models"
	"github.com/leporid/migration-tools/internal/shared"
)

// collectUsernames snapshots tbl_user as username -> id.
func collectUsernames(ctx context.Context, target *Endpoint) (map[string]string, error) {
	rows, err := target.Query(ctx, `SELECT username, id FROM tbl_user`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byName := make(map[string]string)
	for rows.Next() {
		var username, id string
		if err := rows.Scan(&username, &id); err != nil {
			return nil, fmt.Errorf("failed to scan tbl_user row: %w", err)
		}
		byName[username] = id
	}
	return byName, rows.Err()
}

// collectExistingIDs snapshots the single-column key set of one target table.
// Table and column names come from engine code, never from input.
func collectExistingIDs(ctx context.Context, target *Endpoint, table, column string) (map[string]struct{}, error) {
	rows, err := target.Query(ctx, fmt.Sprintf(`SELECT %s FROM %s`, column, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// thirdPartyKey is the natural key of tbl_user_third_party.
func thirdPartyKey(username string, strategy int) string {
	return fmt.Sprintf("%s\x00%d", username, strategy)
}

// collectThirdPartyKeys snapshots tbl_user_third_party as
// (username, strategy) -> id.
func collectThirdPartyKeys(ctx context.Context, target *Endpoint) (map[string]string, error) {
	rows, err := target.Query(ctx, `SELECT id, username, strategy FROM tbl_user_third_party`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]string)
	for rows.Next() {
		var id, username string
		var strategy int
		if err := rows.Scan(&id, &username, &strategy); err != nil {
			return nil, fmt.Errorf("failed to scan tbl_user_third_party row: %w", err)
		}
		keys[thirdPartyKey(username, strategy)] = id
	}
	return keys, rows.Err()
}

// accountKey is the natural key of tbl_account.
func accountKey(userID string, serverID int) string {
	return fmt.Sprintf("%s\x00%d", userID, serverID)
}

// collectAccountKeys snapshots tbl_account as (user_id, server_id) -> id.
func collectAccountKeys(ctx context.Context, target *Endpoint) (map[string]string, error) {
	rows, err := target.Query(ctx, `SELECT id, user_id, server_id FROM tbl_account`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make(map[string]string)
	for rows.Next() {
		var id, userID string
		var serverID int
		if err := rows.Scan(&id, &userID, &serverID); err != nil {
			return nil, fmt.Errorf("failed to scan tbl_account row: %w", err)
		}
		keys[accountKey(userID, serverID)] = id
	}
	return keys, rows.Err()
}

// loadServerIDs preloads tbl_server as identifier -> id and verifies every
// identifier the server-rule enumeration requires is present. A missing
// identifier is fatal before any account row is written.
func loadServerIDs(ctx context.Context, target *Endpoint) (map[string]int, error) {
	rows, err := target.Query(ctx, `SELECT id, identifier FROM tbl_server`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]int)
	for rows.Next() {
		var id int
		var identifier sql.NullString
		if err := rows.Scan(&id, &identifier); err != nil {
			return nil, fmt.Errorf("failed to scan tbl_server row: %w", err)
		}
		ids[strings.ToUpper(identifier.String)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, identifier := range models.RequiredServerIdentifiers() {
		if _, ok := ids[identifier]; !ok {
			missing = append(missing, identifier)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrMissingServer, strings.Join(missing, ", "))
	}
	return ids, nil
}

// defaultAspect is the reference-data row every image upsert depends on.
var defaultAspect = struct {
	ID              string
	Name            string
	Description     string
	RatioWidthUnit  int
	RatioHeightUnit int
}{
	ID:              "id-1-ff",
	Name:            "ISO 7810 ID-1 FF",
	Description:     "ISO 7810 ID-1 full-frame",
	RatioWidthUnit:  768,
	RatioHeightUnit: 1220,
}

// ensureDefaultAspect creates the default image aspect when absent and
// leaves an existing row untouched.
func ensureDefaultAspect(ctx context.Context, target *Endpoint, logger *log.Logger) error {
	rows, err := target.Query(ctx, `SELECT id FROM tbl_image_aspect WHERE id = ?`, defaultAspect.ID)
	if err != nil {
		return err
	}
	exists := rows.Next()
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	if exists {
		return nil
	}

	err = target.Exec(ctx, `
		INSERT INTO tbl_image_aspect (id, name, description, ratio_width_unit, ratio_height_unit)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		defaultAspect.ID, defaultAspect.Name, defaultAspect.Description,
		defaultAspect.RatioWidthUnit, defaultAspect.RatioHeightUnit)
	if err != nil {
		return fmt.Errorf("failed to ensure default image aspect: %w", err)
	}
	logger.Info("created missing image aspect", "id", defaultAspect.ID)
	return nil
}

// collectImageFileNames maps tbl_image.file_name -> id for non-blank file
// names. It is the target half of the image-reference join.
func collectImageFileNames(ctx context.Context, target *Endpoint) (map[string]string, error) {
	rows, err := target.Query(ctx, `
		SELECT id, file_name
		FROM tbl_image
		WHERE file_name IS NOT NULL AND file_name <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byFileName := make(map[string]string)
	for rows.Next() {
		var id, fileName string
		if err := rows.Scan(&id, &fileName); err != nil {
			return nil, fmt.Errorf("failed to scan tbl_image row: %w", err)
		}
		byFileName[fileName] = id
	}
	return byFileName, rows.Err()
}

// buildImageJoin derives the source-image-id -> target-image-id mapping by
// joining the shared sega/file name across the two databases.
func buildImageJoin(ctx context.Context, src, target *Endpoint) (map[string]string, error) {
	segaNameByID, err := loadImageSegaNames(ctx, src)
	if err != nil {
		return nil, err
	}
	if len(segaNameByID) == 0 {
		return map[string]string{}, nil
	}

	idByFileName, err := collectImageFileNames(ctx, target)
	if err != nil {
		return nil, err
	}

	join := make(map[string]string)
	for sourceID, segaName := range segaNameByID {
		if targetID, ok := idByFileName[segaName]; ok {
			join[sourceID] = targetID
		}
	}
	return join, nil
}
