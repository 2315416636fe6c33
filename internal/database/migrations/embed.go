// Package migrations provides the embedded SQL migration set.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
