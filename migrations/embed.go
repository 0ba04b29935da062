// Package migrations embeds the schema migrations applied at startup.
package migrations

import "embed"

// FS holds every .sql migration in lexical order of application
//
//go:embed *.sql
var FS embed.FS
