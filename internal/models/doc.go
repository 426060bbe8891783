// Package models defines the data model shared by every migration variant.
//
// The package contains three categories of types:
//
// 1. Source records: typed snapshots of legacy rows, constructed immediately
// after each query so downstream components never see loosely-typed result rows
//   - [SourceUser] : legacy account-holder row
//   - [SourceAccount] : per-provider game account owned by a user
//   - [SourcePreference] : cosmetic/display settings, zero-or-one per user
//   - [SourceImage] : uploaded image row (covers both legacy image schemas)
//
// 2. Run-scoped derivations: values that exist only for the duration of one
// engine invocation
//   - [MigratedUser] : a source user joined with its assigned target identity
//   - [SectionResult] : per-section processed/inserted/updated/skipped counters
//
// 3. The server-rule enumeration: [ServerRule] and [RuleFor] give a closed,
// total mapping from upstream provider tags to username prefix, third-party
// strategy code, and target server identifier. Any tag outside the enumeration
// is the single unsupported-server condition, checked once by callers.
package models
