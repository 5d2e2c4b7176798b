// Package migrations embeds the backend schema migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
