// Package prompt holds the support documentation sent upstream as the system
// instruction. The text is deployment content; it is never built from user input.
package prompt

import (
	_ "embed"
	"strings"
)

//go:embed support.md
var support string

// Default returns the embedded support-agent instruction.
func Default() string {
	return strings.TrimSpace(support)
}
