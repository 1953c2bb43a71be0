// Package migrations embeds the SQL schema so the migrate binary carries
// its migrations instead of depending on a deploy-time directory.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
