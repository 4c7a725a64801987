// Package repository provides identity directories: Supabase Auth (GoTrue admin API) and a Postgres table.
package repository

import (
	"github.com/ShiroSan123/otp-valhalla/internal/identity/service"
)

var (
	_ service.Directory = (*SupabaseDirectory)(nil)
	_ service.Directory = (*PostgresDirectory)(nil)
)
