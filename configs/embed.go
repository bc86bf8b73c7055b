// Package configs embeds the configuration template written by
// `docindex config init`.
//
// The same file serves as the user config (~/.config/docindex/config.yaml)
// and the project config (.docindex.yaml). Every setting is commented out,
// so an unedited file leaves the defaults from internal/config in effect.
package configs

import _ "embed"

// ConfigTemplate is the commented example configuration.
//
//go:embed config.example.yaml
var ConfigTemplate string
