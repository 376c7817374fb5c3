// Package auth provides authentication and authorisation for Inspection Core.
//
// It implements:
//   - A rotating window of HMAC signing secrets (current + previous)
//   - Session tokens (HS256 JWT) verified against every active secret
//   - Transparent refresh decisions for tokens close to expiry
//   - A closed set of roles and permissions with declarative route requirements
//   - Argon2id password hashing for login, registration and password change
//   - SQLite-backed user accounts with role-conditional eager loading
//
// The secret window is an immutable snapshot replaced wholesale on rotation,
// so concurrent verifications always observe either the pre- or post-rotation
// list and never a partially updated one.
package auth
