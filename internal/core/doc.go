// Package core provides the business logic for training-history imports.
//
// The package holds all domain logic independent of any UI or transport
// layer. Web handlers, the CLI and tests drive it through [Service] or call
// the stages directly.
//
// # Pipeline
//
// An import runs through six stages, each a function of the previous
// stage's output:
//
//  1. [ParseFile] reads CSV or xlsx into [ParsedRow] values, recording bad
//     cells as row errors. Only an unreadable file returns a [FileError].
//  2. [MatchMembers] resolves each row to a member by email, badge number or
//     name. Unmatched rows are excluded, not failed.
//  3. [ReconcileCourses] matches course names against the catalog and
//     buckets the rest into [UnmatchedCourse] entries in first-appearance
//     order.
//  4. [MappingTable] holds the user's decision per bucket: map_existing,
//     create_new or skip.
//  5. [Project] computes the read-only [Preview] and [ImportSummary].
//  6. [CommitEngine] writes importable rows, creating new courses once per
//     bucket, and reports every row outcome in an [ImportResult].
//
// # Sessions
//
// [Service] keeps the stage outputs in a [Session] persisted through a
// [SessionStore]. Stepping back discards downstream state; a committed
// session is terminal.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a code for support reference:
//
//   - DB001-DB007: Database errors (duplicates, constraints, connections)
//   - VAL001-VAL006: Validation errors (dates, numbers, mappings)
//   - FILE001-FILE006: File errors (size, encoding, header)
//   - IMP001-IMP005: Import process errors (busy, cancelled, timeout)
//   - SES001-SES007: Session errors (expired, committed, stage, interrupted commit)
package core
