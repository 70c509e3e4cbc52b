// Package auth validates the bearer tokens that guard the console API.
//
// Tokens are HS256 JWTs carrying a subject and one of three roles. Viewers
// may read, operators may also write controls and run actions, admins may
// additionally read the audit trail. Permissions are a static table.
package auth
