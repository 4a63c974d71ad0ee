package config

import (
	"os"
	"path/filepath"
	"strings"
)

// moduleExtensions are tried in order when resolving a bare name.
var moduleExtensions = []string{".o", ""}

// IsBareName reports whether arg needs a path search: no directory
// separator and no extension.
func IsBareName(arg string) bool {
	return !strings.ContainsRune(arg, '/') && filepath.Ext(arg) == ""
}

// FindModule locates the object file for a bare module name by walking
// the search directories in order. The first regular file wins.
func FindModule(paths []string, name string) (string, bool) {
	for _, dir := range paths {
		for _, ext := range moduleExtensions {
			p := filepath.Join(dir, name+ext)
			if fi, err := os.Stat(p); err == nil && fi.Mode().IsRegular() {
				return p, true
			}
		}
	}
	return "", false
}
