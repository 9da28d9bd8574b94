// Package migrations содержит SQL-миграции схемы БД, встроенные в бинарники.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
