package migrations

import "embed"

// FS holds one migration set per database dialect, under postgres/ and sqlite/.
//
//go:embed postgres/*.sql sqlite/*.sql
var FS embed.FS
