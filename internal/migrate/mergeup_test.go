package migrate

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/leporid/migration-tools/internal/shared"
)

type mergeUpDBs struct {
	sourceURL    string
	leporidURL   string
	usagipassURL string
	leporid      *sql.DB
	usagipass    *sql.DB
}

// newMergeUpDBs creates the three databases with empty targets; callers seed
// source rows and servers themselves.
func newMergeUpDBs(t *testing.T) (*sql.DB, *mergeUpDBs) {
	t.Helper()

	srcDB, srcPath := newTestDB(t, "source", mergeUpSourceSchema...)
	lepDB, lepPath := newTestDB(t, "leporid", mergeUpLeporidSchema...)
	usaDB, usaPath := newTestDB(t, "usagipass", usagipassSchema...)

	return srcDB, &mergeUpDBs{
		sourceURL:    srcPath,
		leporidURL:   lepPath,
		usagipassURL: usaPath,
		leporid:      lepDB,
		usagipass:    usaDB,
	}
}

// seedMergeUpSource populates the canonical fixture: two migratable users,
// one on an unsupported server, one without accounts, plus images and one
// preferences row full of legacy NULLs.
func seedMergeUpSource(t *testing.T, src *sql.DB, dbs *mergeUpDBs) {
	t.Helper()

	mustExec(t, src, `INSERT INTO users (username, prefer_server, created_at, updated_at) VALUES
		('alice', 'DIVING_FISH', ?, ?),
		('bob', 'LXNS', ?, ?),
		('carol', 'OTHER', ?, ?),
		('dave', 'DIVING_FISH', ?, ?)`,
		testTime, testTime, testTime, testTime, testTime, testTime, testTime, testTime)

	mustExec(t, src, `INSERT INTO user_accounts
		(username, account_name, account_server, account_password, nickname, bind_qq, player_rating, created_at, updated_at) VALUES
		('alice', 'alice-df', 'DIVING_FISH', 'pw-a', 'Alice', NULL, 12345, ?, ?),
		('alice', 'alice-lx', 'LXNS', 'pw-a2', NULL, NULL, 11000, ?, ?),
		('bob', 'bob-lx', 'LXNS', 'pw-b', NULL, '10001', 14000, ?, ?),
		('bob', 'bob-other', 'OTHER', 'pw-b2', NULL, NULL, 9000, ?, ?)`,
		testTime, testTime, testTime, testTime, testTime, testTime, testTime, testTime)

	mustExec(t, src, `INSERT INTO user_preferences
		(username, maimai_version, simplified_code, character_name, friend_code, display_name,
		 dx_rating, qr_size, mask_type, character_id, background_id, frame_id, passname_id,
		 chara_info_color, show_date) VALUES
		('alice', 'DX2024', 'SC01', 'Chara', '123456789', 'ALICE',
		 '12345', NULL, 1, 'src-img-1', 'legacy-override', 'unmapped-id', NULL,
		 NULL, NULL)`)

	mustExec(t, src, `INSERT INTO images (id, name, kind, sega_name, uploaded_by, uploaded_at) VALUES
		('src-img-1', 'Cool Chara', 'CHARACTER', 'chara001.png', 'alice', ?),
		('src-img-2', 'Odd Kind', 'STICKER', NULL, 'alice', ?),
		('src-img-3', 'Orphan', 'FRAME', NULL, 'ghost', ?),
		('src-img-4', 'Anonymous', 'FRAME', NULL, NULL, ?)`,
		testTime, testTime, testTime, testTime)

	// Pre-existing target image that shares alice's sega name; the live join
	// should resolve her character reference to this id.
	mustExec(t, dbs.leporid, `INSERT INTO tbl_image
		(id, user_id, aspect_id, name, description, visibility, labels, file_name, metadata_id, created_at, updated_at)
		VALUES ('tgt-img-9', 'someone', 'id-1-ff', 'Chara 001', '', 0, '[]', 'chara001.png', NULL, ?, ?)`,
		testTime, testTime)

	seedServers(t, dbs.usagipass)
}

func testMergeUpConfig(dbs *mergeUpDBs) MergeUpConfig {
	return MergeUpConfig{
		SourceURL:    dbs.sourceURL,
		LeporidURL:   dbs.leporidURL,
		UsagipassURL: dbs.usagipassURL,
		Overrides:    map[string]string{"legacy-override": "tgt-override-1"},
		HashPassword: func() string { return "migrated-secret" },
		Logger:       testLogger(),
	}
}

func TestMergeUp(t *testing.T) {
	ctx := context.Background()

	t.Run("first run migrates every section", func(t *testing.T) {
		src, dbs := newMergeUpDBs(t)
		seedMergeUpSource(t, src, dbs)

		summary, err := MergeUp(ctx, testMergeUpConfig(dbs))
		if err != nil {
			t.Fatalf("MergeUp returned error: %v", err)
		}

		// carol uses an unsupported server, dave has no primary account.
		if summary.Users.Processed != 4 || summary.Users.Inserted != 2 || summary.Users.Skipped != 2 {
			t.Errorf("users = %+v, want 4 processed / 2 inserted / 2 skipped", summary.Users)
		}
		// alice and bob carry four accounts between them; bob-other is on an
		// unsupported server.
		if summary.ThirdParties.Processed != 4 || summary.ThirdParties.Inserted != 3 || summary.ThirdParties.Skipped != 1 {
			t.Errorf("third parties = %+v, want 4 processed / 3 inserted / 1 skipped", summary.ThirdParties)
		}
		if summary.Accounts.Processed != 4 || summary.Accounts.Inserted != 3 || summary.Accounts.Skipped != 1 {
			t.Errorf("accounts = %+v, want 4 processed / 3 inserted / 1 skipped", summary.Accounts)
		}
		if summary.Ratings.Processed != 2 || summary.Ratings.Inserted != 2 {
			t.Errorf("ratings = %+v, want 2 processed / 2 inserted", summary.Ratings)
		}
		if summary.Preferences.Processed != 2 || summary.Preferences.Inserted != 2 {
			t.Errorf("preferences = %+v, want 2 processed / 2 inserted", summary.Preferences)
		}
		// src-img-1 migrates, src-img-2 has an unknown kind, src-img-3 has an
		// unmigrated uploader, src-img-4 is excluded at the query level.
		if summary.Images.Processed != 3 || summary.Images.Inserted != 1 || summary.Images.Skipped != 2 {
			t.Errorf("images = %+v, want 3 processed / 1 inserted / 2 skipped", summary.Images)
		}

		var username, hashed string
		if err := dbs.leporid.QueryRow(
			`SELECT username, hashed_password FROM tbl_user WHERE username LIKE 'dvfh_%'`).
			Scan(&username, &hashed); err != nil {
			t.Fatalf("failed to read migrated user: %v", err)
		}
		if username != "dvfh_alice-df" {
			t.Errorf("derived username = %q, want dvfh_alice-df", username)
		}
		if hashed != "migrated-secret" {
			t.Errorf("hashed_password = %q, want the injected secret", hashed)
		}

		var bobID string
		if err := dbs.leporid.QueryRow(
			`SELECT id FROM tbl_user WHERE username = 'lxns_bob-lx'`).Scan(&bobID); err != nil {
			t.Fatalf("failed to read bob's id: %v", err)
		}
		var rating int
		if err := dbs.usagipass.QueryRow(
			`SELECT rating FROM tbl_rating WHERE user_id = ?`, bobID).Scan(&rating); err != nil {
			t.Fatalf("failed to read bob's rating: %v", err)
		}
		if rating != 14000 {
			t.Errorf("rating = %d, want the primary account's 14000", rating)
		}

		var credentials string
		if err := dbs.usagipass.QueryRow(
			`SELECT credentials FROM tbl_account WHERE server_id = 1`).Scan(&credentials); err != nil {
			t.Fatalf("failed to read credentials: %v", err)
		}
		if credentials != `{"accountName":"alice-df","accountPassword":"pw-a"}` {
			t.Errorf("credentials = %s", credentials)
		}
	})

	t.Run("preference references resolve through join then overrides", func(t *testing.T) {
		src, dbs := newMergeUpDBs(t)
		seedMergeUpSource(t, src, dbs)

		if _, err := MergeUp(ctx, testMergeUpConfig(dbs)); err != nil {
			t.Fatalf("MergeUp returned error: %v", err)
		}

		var aliceID string
		if err := dbs.leporid.QueryRow(
			`SELECT id FROM tbl_user WHERE username = 'dvfh_alice-df'`).Scan(&aliceID); err != nil {
			t.Fatalf("failed to read alice's id: %v", err)
		}

		var characterID, backgroundID, frameID, passnameID, color string
		var qrSize, showDate int
		if err := dbs.usagipass.QueryRow(`
			SELECT character_id, background_id, frame_id, passname_id, chara_info_color, qr_size, show_date
			FROM tbl_preference WHERE user_id = ?`, aliceID).
			Scan(&characterID, &backgroundID, &frameID, &passnameID, &color, &qrSize, &showDate); err != nil {
			t.Fatalf("failed to read alice's preferences: %v", err)
		}

		if characterID != "tgt-img-9" {
			t.Errorf("character_id = %q, want the live-join target tgt-img-9", characterID)
		}
		if backgroundID != "tgt-override-1" {
			t.Errorf("background_id = %q, want the override target tgt-override-1", backgroundID)
		}
		if frameID != "unmapped-id" {
			t.Errorf("frame_id = %q, want the unmapped value passed through", frameID)
		}
		if passnameID != "" {
			t.Errorf("passname_id = %q, want blank preserved", passnameID)
		}
		if color != "#fee37c" || qrSize != 15 || showDate != 1 {
			t.Errorf("defaults = %s/%d/%d, want #fee37c/15/1", color, qrSize, showDate)
		}
	})

	t.Run("absent preferences row takes full defaults", func(t *testing.T) {
		src, dbs := newMergeUpDBs(t)
		seedMergeUpSource(t, src, dbs)

		if _, err := MergeUp(ctx, testMergeUpConfig(dbs)); err != nil {
			t.Fatalf("MergeUp returned error: %v", err)
		}

		var bobID string
		if err := dbs.leporid.QueryRow(
			`SELECT id FROM tbl_user WHERE username = 'lxns_bob-lx'`).Scan(&bobID); err != nil {
			t.Fatalf("failed to read bob's id: %v", err)
		}

		var color string
		var qrSize int
		if err := dbs.usagipass.QueryRow(
			`SELECT chara_info_color, qr_size FROM tbl_preference WHERE user_id = ?`, bobID).
			Scan(&color, &qrSize); err != nil {
			t.Fatalf("failed to read bob's preferences: %v", err)
		}
		if color != "#fee37c" || qrSize != 15 {
			t.Errorf("defaults = %s/%d, want #fee37c/15", color, qrSize)
		}
	})

	t.Run("second run is idempotent", func(t *testing.T) {
		src, dbs := newMergeUpDBs(t)
		seedMergeUpSource(t, src, dbs)
		cfg := testMergeUpConfig(dbs)

		if _, err := MergeUp(ctx, cfg); err != nil {
			t.Fatalf("first MergeUp returned error: %v", err)
		}
		summary, err := MergeUp(ctx, cfg)
		if err != nil {
			t.Fatalf("second MergeUp returned error: %v", err)
		}

		if summary.Users.Inserted != 0 || summary.Users.Updated != 2 {
			t.Errorf("second-run users = %+v, want 0 inserted / 2 updated", summary.Users)
		}
		if summary.ThirdParties.Inserted != 0 || summary.ThirdParties.Updated != 3 {
			t.Errorf("second-run third parties = %+v, want 0 inserted / 3 updated", summary.ThirdParties)
		}
		if summary.Accounts.Inserted != 0 || summary.Accounts.Updated != 3 {
			t.Errorf("second-run accounts = %+v, want 0 inserted / 3 updated", summary.Accounts)
		}
		if summary.Ratings.Inserted != 0 || summary.Ratings.Updated != 2 {
			t.Errorf("second-run ratings = %+v, want 0 inserted / 2 updated", summary.Ratings)
		}
		if summary.Preferences.Inserted != 0 || summary.Preferences.Updated != 2 {
			t.Errorf("second-run preferences = %+v, want 0 inserted / 2 updated", summary.Preferences)
		}
		if summary.Images.Inserted != 0 || summary.Images.Updated != 1 {
			t.Errorf("second-run images = %+v, want 0 inserted / 1 updated", summary.Images)
		}

		if n := countRows(t, dbs.leporid, "tbl_user"); n != 2 {
			t.Errorf("tbl_user rows = %d after two runs, want 2", n)
		}
		if n := countRows(t, dbs.usagipass, "tbl_account"); n != 3 {
			t.Errorf("tbl_account rows = %d after two runs, want 3", n)
		}
	})

	t.Run("dry run leaves all targets untouched", func(t *testing.T) {
		src, dbs := newMergeUpDBs(t)
		seedMergeUpSource(t, src, dbs)
		cfg := testMergeUpConfig(dbs)
		cfg.DryRun = true

		summary, err := MergeUp(ctx, cfg)
		if err != nil {
			t.Fatalf("MergeUp returned error: %v", err)
		}
		if summary.Users.Processed != 4 {
			t.Errorf("dry run should still report processed rows, got %+v", summary.Users)
		}

		if n := countRows(t, dbs.leporid, "tbl_user"); n != 0 {
			t.Errorf("tbl_user rows = %d after dry run, want 0", n)
		}
		if n := countRows(t, dbs.usagipass, "tbl_account"); n != 0 {
			t.Errorf("tbl_account rows = %d after dry run, want 0", n)
		}
		// The seeded join image stays; nothing new appears beside it.
		if n := countRows(t, dbs.leporid, "tbl_image"); n != 1 {
			t.Errorf("tbl_image rows = %d after dry run, want the 1 seeded row", n)
		}
	})

	t.Run("missing server identifier is fatal before any write", func(t *testing.T) {
		src, dbs := newMergeUpDBs(t)
		seedMergeUpSource(t, src, dbs)
		mustExec(t, dbs.usagipass, `DELETE FROM tbl_server WHERE identifier = 'LXNS'`)

		_, err := MergeUp(ctx, testMergeUpConfig(dbs))
		if !errors.Is(err, shared.ErrMissingServer) {
			t.Fatalf("error = %v, want ErrMissingServer", err)
		}

		if n := countRows(t, dbs.leporid, "tbl_user"); n != 0 {
			t.Errorf("tbl_user rows = %d after failed run, want 0", n)
		}
	})

	t.Run("duplicate derived username is claimed once", func(t *testing.T) {
		src, dbs := newMergeUpDBs(t)
		seedServers(t, dbs.usagipass)

		mustExec(t, src, `INSERT INTO users (username, prefer_server, created_at, updated_at) VALUES
			('eve', 'DIVING_FISH', ?, ?),
			('frank', 'DIVING_FISH', ?, ?)`, testTime, testTime, testTime, testTime)
		mustExec(t, src, `INSERT INTO user_accounts
			(username, account_name, account_server, account_password, nickname, bind_qq, player_rating, created_at, updated_at) VALUES
			('eve', 'dupe', 'DIVING_FISH', 'pw-e', NULL, NULL, 100, ?, ?),
			('frank', 'dupe', 'DIVING_FISH', 'pw-f', NULL, NULL, 200, ?, ?)`,
			testTime, testTime, testTime, testTime)

		summary, err := MergeUp(ctx, testMergeUpConfig(dbs))
		if err != nil {
			t.Fatalf("MergeUp returned error: %v", err)
		}

		if summary.Users.Processed != 2 || summary.Users.Inserted != 1 || summary.Users.Skipped != 1 {
			t.Errorf("users = %+v, want 2 processed / 1 inserted / 1 skipped", summary.Users)
		}

		var n int
		if err := dbs.leporid.QueryRow(
			`SELECT COUNT(*) FROM tbl_user WHERE username = 'dvfh_dupe'`).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("dvfh_dupe rows = %d, want 1", n)
		}
	})

	t.Run("mid-run failure rolls back every endpoint", func(t *testing.T) {
		src, dbs := newMergeUpDBs(t)
		seedMergeUpSource(t, src, dbs)

		// The preference join reads leporid's tbl_image, so dropping it fails
		// the run after users, accounts, and ratings already executed.
		mustExec(t, dbs.leporid, `DROP TABLE tbl_image`)

		_, err := MergeUp(ctx, testMergeUpConfig(dbs))
		if err == nil {
			t.Fatal("expected error after dropping tbl_image")
		}

		if n := countRows(t, dbs.leporid, "tbl_user"); n != 0 {
			t.Errorf("tbl_user rows = %d after failed run, want 0", n)
		}
		if n := countRows(t, dbs.usagipass, "tbl_rating"); n != 0 {
			t.Errorf("tbl_rating rows = %d after failed run, want 0", n)
		}
	})
}
