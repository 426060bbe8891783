package migrate

import (
	"database/sql"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/mattn/go-sqlite3"
)

// testLogger returns a quiet logger for engine tests.
func testLogger() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// newTestDB creates a temp-file SQLite database and applies the given schema
// statements. The returned URL is accepted by the engine; the handle is for
// seeding and assertions.
func newTestDB(t *testing.T, name string, schema ...string) (*sql.DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), name+".db")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", name, err)
	}
	t.Cleanup(func() { db.Close() })

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("failed to apply schema to %s: %v\n%s", name, err, stmt)
		}
	}
	return db, path
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("failed to count %s: %v", table, err)
	}
	return n
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec failed: %v\n%s", err, query)
	}
}

var testTime = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// Legacy schema of the two-database variant.
var mergeSourceSchema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		hashed_password TEXT NOT NULL,
		email TEXT,
		created_at TIMESTAMP
	)`,
	`CREATE TABLE images (
		uuid TEXT PRIMARY KEY,
		kind TEXT,
		label TEXT,
		file_name TEXT,
		uploaded_by TEXT,
		uploaded_at TIMESTAMP,
		category TEXT,
		trace_id TEXT
	)`,
}

// Leporid target schema as written by the two-database variant.
var mergeTargetSchema = []string{
	`CREATE TABLE tbl_user (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		hashed_password TEXT,
		email TEXT,
		permissions TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE tbl_image (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		aspect_id TEXT,
		name TEXT,
		description TEXT,
		visibility INTEGER,
		labels TEXT,
		original_name TEXT,
		original_id TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE tbl_image_aspect (
		id TEXT PRIMARY KEY,
		name TEXT,
		description TEXT,
		ratio_width_unit INTEGER,
		ratio_height_unit INTEGER
	)`,
}

// Legacy schema of the three-database variant.
var mergeUpSourceSchema = []string{
	`CREATE TABLE users (
		username TEXT PRIMARY KEY,
		prefer_server TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE user_accounts (
		username TEXT NOT NULL,
		account_name TEXT NOT NULL,
		account_server TEXT,
		account_password TEXT,
		nickname TEXT,
		bind_qq TEXT,
		player_rating INTEGER,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE user_preferences (
		username TEXT PRIMARY KEY,
		maimai_version TEXT,
		simplified_code TEXT,
		character_name TEXT,
		friend_code TEXT,
		display_name TEXT,
		dx_rating TEXT,
		qr_size INTEGER,
		mask_type INTEGER,
		character_id TEXT,
		background_id TEXT,
		frame_id TEXT,
		passname_id TEXT,
		chara_info_color TEXT,
		show_date INTEGER
	)`,
	`CREATE TABLE images (
		id TEXT PRIMARY KEY,
		name TEXT,
		kind TEXT,
		sega_name TEXT,
		uploaded_by TEXT,
		uploaded_at TIMESTAMP
	)`,
}

// Leporid target schema as written by the three-database variant.
var mergeUpLeporidSchema = []string{
	`CREATE TABLE tbl_user (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		hashed_password TEXT,
		email TEXT,
		permissions TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE tbl_user_third_party (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		username TEXT,
		strategy INTEGER,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE tbl_image (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		aspect_id TEXT,
		name TEXT,
		description TEXT,
		visibility INTEGER,
		labels TEXT,
		file_name TEXT,
		metadata_id TEXT,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE tbl_image_aspect (
		id TEXT PRIMARY KEY,
		name TEXT,
		description TEXT,
		ratio_width_unit INTEGER,
		ratio_height_unit INTEGER
	)`,
}

// Usagipass target schema.
var usagipassSchema = []string{
	`CREATE TABLE tbl_server (
		id INTEGER PRIMARY KEY,
		identifier TEXT
	)`,
	`CREATE TABLE tbl_account (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		server_id INTEGER,
		credentials TEXT,
		enabled INTEGER,
		created_at TIMESTAMP,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE tbl_rating (
		user_id TEXT PRIMARY KEY,
		name TEXT,
		rating INTEGER,
		friend_code TEXT,
		updated_at TIMESTAMP
	)`,
	`CREATE TABLE tbl_preference (
		user_id TEXT PRIMARY KEY,
		maimai_version TEXT,
		simplified_code TEXT,
		character_name TEXT,
		friend_code TEXT,
		display_name TEXT,
		dx_rating TEXT,
		qr_size INTEGER,
		mask_type INTEGER,
		player_info_color TEXT,
		chara_info_color TEXT,
		show_dx_rating INTEGER,
		show_display_name INTEGER,
		show_friend_code INTEGER,
		show_date INTEGER,
		character_id TEXT,
		mask_id TEXT,
		background_id TEXT,
		frame_id TEXT,
		passname_id TEXT
	)`,
}

func seedServers(t *testing.T, db *sql.DB) {
	t.Helper()
	mustExec(t, db, `INSERT INTO tbl_server (id, identifier) VALUES (1, 'DIVING_FISH'), (2, 'LXNS')`)
}
