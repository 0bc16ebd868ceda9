// Package templates embeds default configuration files.
package templates

import "embed"

//go:embed workflows.yaml
var FS embed.FS
