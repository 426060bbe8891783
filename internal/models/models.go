package models

import (
	"time"
)

// SourceUser is a row from the legacy users table. Read-only input.
type SourceUser struct {
	Username     string
	PreferServer string // normalized to upper case at load time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SourceAccount is a row from the legacy user_accounts table.
// A user holds at most one account per provider tag in practice.
type SourceAccount struct {
	Username        string
	AccountName     string
	AccountServer   string // normalized to upper case at load time
	AccountPassword string
	Nickname        string
	BindQQ          string
	PlayerRating    int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SourcePreference is a row from the legacy user_preferences table.
// Zero-or-one per user; absent rows are replaced by DefaultPreference.
type SourcePreference struct {
	Username       string
	MaimaiVersion  string
	SimplifiedCode string
	CharacterName  string
	FriendCode     string
	DisplayName    string
	DXRating       string
	QRSize         int
	MaskType       int
	CharacterID    string
	BackgroundID   string
	FrameID        string
	PassnameID     string
	CharaInfoColor string
	ShowDate       bool
}

// DefaultCharaInfoColor is applied when the legacy row left the color blank.
const DefaultCharaInfoColor = "#fee37c"

// DefaultPreference returns the preference row used for users that never
// saved one.
func DefaultPreference(username string) SourcePreference {
	return SourcePreference{
		Username:       username,
		QRSize:         15,
		CharaInfoColor: DefaultCharaInfoColor,
		ShowDate:       true,
	}
}

// SourceImage is a row from a legacy images table. The two legacy schemas
// expose different column subsets; loaders fill only what they queried.
// An empty UploadedBy means the column was NULL.
type SourceImage struct {
	ID         string
	Kind       string
	Label      string
	Category   string
	SegaName   string
	FileName   string
	TraceID    string
	UploadedBy string
	UploadedAt time.Time
}

// MigratedUser joins a source user with the target identity assigned during
// the users section. Later sections key off NewUserID exclusively; the value
// never changes within a run once assigned.
type MigratedUser struct {
	Source         SourceUser
	NewUserID      string
	NewUsername    string
	PrimaryAccount SourceAccount
	Accounts       []SourceAccount
}

// SectionResult carries the per-section counters every section migrator
// produces. Processed increments for every row considered; exactly one of
// Inserted, Updated, or Skipped increments alongside it.
type SectionResult struct {
	Processed int
	Inserted  int
	Updated   int
	Skipped   int
}

// MergeSummary groups section results for the two-database variant.
type MergeSummary struct {
	Users  SectionResult
	Images SectionResult
}

// MergeUpSummary groups section results for the three-database variant,
// in execution order.
type MergeUpSummary struct {
	Users        SectionResult
	ThirdParties SectionResult
	Accounts     SectionResult
	Ratings      SectionResult
	Preferences  SectionResult
	Images       SectionResult
}

// ServerRule describes how accounts from one upstream provider map into the
// target systems.
type ServerRule struct {
	Prefix     string // prepended to the account name to form the target username
	Strategy   int    // third-party authentication strategy code
	Identifier string // tbl_server identifier in the target database
}

// serverRules is the closed enumeration of supported provider tags.
var serverRules = map[string]ServerRule{
	"DIVING_FISH": {Prefix: "dvfh_", Strategy: 1, Identifier: "DIVING_FISH"},
	"LXNS":        {Prefix: "lxns_", Strategy: 2, Identifier: "LXNS"},
}

// RuleFor looks up the rule for an upstream provider tag. The second return
// is false for any tag outside the enumeration; callers treat that as the
// unsupported-server condition.
func RuleFor(tag string) (ServerRule, bool) {
	rule, ok := serverRules[tag]
	return rule, ok
}

// RequiredServerIdentifiers lists the tbl_server identifiers every merge-up
// target must contain before any account row is written.
func RequiredServerIdentifiers() []string {
	ids := make([]string, 0, len(serverRules))
	for _, rule := range serverRules {
		ids = append(ids, rule.Identifier)
	}
	return ids
}

// PrimaryAccount selects the account matching the user's preferred provider
// tag, or nil when the user holds no account there.
func PrimaryAccount(preferServer string, accounts []SourceAccount) *SourceAccount {
	for i := range accounts {
		if accounts[i].AccountServer == preferServer {
			return &accounts[i]
		}
	}
	return nil
}
