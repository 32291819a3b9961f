// Package authguard provides an embeddable administrative trust and access
// engine: account-lockout throttling, password-policy enforcement, signed
// password-reset tokens, and multi-channel two-factor authentication
// (email code, SMS code, TOTP), together with the session checks that tie
// them into a login flow.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authguard owns no user database and no transport. Callers implement
// [CredentialStore], [ConfigStore], [AuditLogger], and the outbound
// [EmailSender]/[SMSSender] adapters, wire them through a [Builder], and
// drive the resulting [Engine] from their web layer. All keyed mutable
// state - lockout records, pending challenges, password history, session
// state - lives in Redis so that multiple replicas observe the same
// lockouts and challenges.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or encoding details in its
//     public API.
//   - Render templates, route requests, or manage cookies; the middleware
//     subpackage is the only HTTP-aware surface and it only resolves a
//     session token into a guard decision.
//   - Import any sub-package that re-imports authguard (no import cycles).
package authguard
