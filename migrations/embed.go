// Package migrations embeds the goose SQL migrations for the offline
// operation queue schema.
package migrations

import "embed"

// FS holds the embedded migration files, applied by the queue store at open.
//
//go:embed *.sql
var FS embed.FS
