// Package sessiontoken signs and verifies the session reference tokens handed to web
// clients, using HS256 with strict validation semantics.
package sessiontoken
