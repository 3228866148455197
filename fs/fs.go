// Package appfs embeds the files the binaries need at runtime: SQL migrations, email templates and assets.
package appfs

import "embed"

//go:embed migrations/*.sql all:assets
var FS embed.FS

const (
	MigrationsDir     = "migrations"
	EmailTemplatesDir = "assets/templates/email"
	CommonPasswords   = "assets/common-passwords.txt"
)
