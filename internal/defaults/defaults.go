// Package defaults embeds the starter configuration written by
// assist init.
package defaults

import _ "embed"

//go:embed config.example.yaml
var ConfigYAML []byte
