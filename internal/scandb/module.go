package scandb

import (
	"path"
	"path/filepath"
	"strings"
)

// ModuleName is the import name other files use for the file at rel, a
// slash-separated path relative to the project root. Python modules are
// dotted; other languages import by extensionless path.
func ModuleName(language, rel string) string {
	rel = filepath.ToSlash(rel)
	rel = strings.TrimSuffix(rel, path.Ext(rel))
	if language != "Python" {
		return rel
	}
	rel = strings.TrimSuffix(rel, "/__init__")
	return strings.ReplaceAll(rel, "/", ".")
}

// moduleCandidates lists the module names an import of module from the
// file with module name from may refer to, most specific first.
func moduleCandidates(language, from, module string) []string {
	if language == "Python" {
		if rel := strings.TrimLeft(module, "."); rel != module {
			// from .x import y: relative to the importing package.
			pkg := from
			for range len(module) - len(rel) {
				if i := strings.LastIndexByte(pkg, '.'); i >= 0 {
					pkg = pkg[:i]
				} else {
					pkg = ""
				}
			}
			return []string{joinDotted(pkg, rel)}
		}
		if i := strings.LastIndexByte(from, '.'); i >= 0 {
			return []string{module, joinDotted(from[:i], module)}
		}
		return []string{module}
	}

	module = strings.TrimSuffix(module, path.Ext(module))
	if strings.HasPrefix(module, ".") {
		return []string{path.Join(path.Dir(from), module)}
	}
	dir := path.Dir(from)
	if dir == "." {
		return []string{module}
	}
	return []string{module, path.Join(dir, module)}
}

func joinDotted(pkg, name string) string {
	switch {
	case pkg == "":
		return name
	case name == "":
		return pkg
	}
	return pkg + "." + name
}
