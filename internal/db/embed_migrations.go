package db

import "embed"

// MigrationFS embeds the SQL migrations for otp_sessions and identity_users.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
