// Package prompts provides the system prompts for inference tasks, with
// override support.
package prompts

import "embed"

//go:embed system/*.md
var embeddedFS embed.FS
