// Package migrations embeds the SQL schema applied by "clinicbook migrate".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
