package batch

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SplitName splits a file name at its last dot. A name whose only dot is the
// leading one (".profile") has no extension.
func SplitName(name string) (base, ext string) {
	name = filepath.Base(name)
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return name, ""
	}
	return name[:i], name[i+1:]
}

func joinName(base, ext string) string {
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// namer hands out archive entry names that are unique within one run,
// ignoring case so the archive extracts cleanly on case-insensitive filesystems.
type namer struct {
	used map[string]struct{}
}

func newNamer() *namer {
	return &namer{used: make(map[string]struct{})}
}

// reserve derives a name from original, appending suffix to the base and
// replacing the extension when ext is set.
func (n *namer) reserve(original, suffix, ext string) string {
	base, origExt := SplitName(original)
	if ext == "" {
		ext = origExt
	}
	base += suffix

	candidate := joinName(base, ext)
	for i := 2; n.taken(candidate); i++ {
		candidate = joinName(fmt.Sprintf("%s (%d)", base, i), ext)
	}
	n.used[strings.ToLower(candidate)] = struct{}{}
	return candidate
}

func (n *namer) taken(name string) bool {
	_, ok := n.used[strings.ToLower(name)]
	return ok
}
