// Package migrations holds the side-store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
