// Package migrations embeds the goose SQL migrations so the server and the
// migrate command apply the same files regardless of working directory.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
