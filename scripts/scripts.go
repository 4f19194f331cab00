// Package scripts embeds the bundled Risor hook scripts.
package scripts

import (
	"embed"

	"github.com/jward/codeintel/internal/config"
)

// FS holds the bundled hook scripts under hooks/.
//
//go:embed hooks/*.risor
var FS embed.FS

// Hooks returns the hook declarations for the bundled scripts, in the order
// they run.
func Hooks() []config.Hook {
	return []config.Hook{
		{Name: "underscore", Script: "hooks/underscore.risor", Languages: []string{"JavaScript"}},
		{Name: "python-module-globals", Script: "hooks/python_module_globals.risor", Languages: []string{"Python"}},
	}
}
