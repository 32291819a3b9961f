// Package middleware exposes HTTP middleware adapters that enforce authguard session
// decisions on protected routes.
//
// # Guards
//
//   - [Guard] - reads the session token from the Authorization header or the
//     session cookie, calls Engine.GuardRequest, and injects the session into
//     the request context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT implement
// authentication logic itself - all decisions are delegated to Engine.GuardRequest.
//
// # What this package must NOT do
//
//   - Parse or create session tokens directly (delegates to Engine).
//   - Access Redis (Engine handles I/O).
//   - Make authorization decisions beyond the Engine's guard decision.
package middleware
