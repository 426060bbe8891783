// Package migrate implements the multi-database transactional merge engine.
//
// A [Coordinator] owns one connection and one transaction per participating
// database and commits or rolls back all of them as a single logical unit;
// dry runs share the rollback path. On top of it sit the two migration
// variants:
//
//   - [Merge] : legacy database -> leporid (users and images)
//   - [MergeUp] : legacy database -> leporid + usagipass (users, third-party
//     links, accounts, ratings, preferences, images)
//
// Each section loads its existing target keys once, streams source rows in a
// deterministic order, reconciles/transforms/resolves per row, and flushes
// idempotent insert-or-update statements in fixed-size chunks. Row-level
// validation failures are counted and logged as skips; pre-condition and
// infrastructure failures abort the run and roll back every database.
package migrate
