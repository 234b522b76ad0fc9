package history

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/zjrosen/kiln/internal/filetable"
)

// ProjectCommands are the commands that bring a restored project up.
type ProjectCommands struct {
	Setup string
	Start string
}

// Empty reports whether no command was detected.
func (c ProjectCommands) Empty() bool {
	return c.Setup == "" && c.Start == ""
}

var preferredScripts = []string{"dev", "start", "preview"}

// DetectProjectCommands inspects the project root for a package.json or a
// static index.html.
func DetectProjectCommands(files filetable.FileMap, workdir string) ProjectCommands {
	if f, ok := files[path.Join(workdir, "package.json")].(*filetable.File); ok {
		var pkg struct {
			Scripts map[string]string `json:"scripts"`
		}
		if err := json.Unmarshal(jsonc.ToJSON(f.Content), &pkg); err != nil {
			return ProjectCommands{}
		}
		cmds := ProjectCommands{Setup: "npm install"}
		for _, name := range preferredScripts {
			if _, ok := pkg.Scripts[name]; ok {
				cmds.Start = "npm run " + name
				break
			}
		}
		return cmds
	}
	if _, ok := files[path.Join(workdir, "index.html")].(*filetable.File); ok {
		return ProjectCommands{Start: "npx --yes serve"}
	}
	return ProjectCommands{}
}

// Directives renders the commands as action directives.
func (c ProjectCommands) Directives() string {
	var b strings.Builder
	if c.Setup != "" {
		b.WriteString(`<boltAction type="shell">` + c.Setup + "</boltAction>\n")
	}
	if c.Start != "" {
		b.WriteString(`<boltAction type="start">` + c.Start + "</boltAction>\n")
	}
	return b.String()
}
