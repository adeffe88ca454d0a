package sync

import (
	"bufio"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/sabhiram/go-gitignore"

	"github.com/mirrorsync/mirrorsync/internal/utils"
)

// IgnoreFileName is looked for at the root of folder locations.
const IgnoreFileName = ".syncignore"

var defaultIgnoreLines = []string{
	IgnoreFileName,
	// preserved conflict copies stay on the side that lost
	"**/*.conflict",
	"**/*.conflict.*",
	// write artifacts
	"**/.msync-tmp.*",
	// OS junk
	".DS_Store",
	"**/.DS_Store",
	"Thumbs.db",
	"desktop.ini",
	// VCS + editor noise
	".git/",
	"*.swp",
	"*~",
}

// IgnoreList filters paths out of reconciliation. Rules come from three
// places: built-in defaults, a .syncignore file at the root of a folder
// location, and --exclude globs from the command line.
type IgnoreList struct {
	ignore   *gitignore.GitIgnore
	extra    []string
	excludes []string
}

// NewIgnoreList compiles the default rules plus excludes. Excludes use
// doublestar syntax and match against the location-relative path.
func NewIgnoreList(excludes []string) *IgnoreList {
	return &IgnoreList{
		ignore:   gitignore.CompileIgnoreLines(defaultIgnoreLines...),
		excludes: excludes,
	}
}

// LoadFile merges rules from a .syncignore file at root, if present.
// Rules accumulate across calls so both sides of a pair can carry one.
func (l *IgnoreList) LoadFile(root string) {
	ignorePath := filepath.Join(root, IgnoreFileName)
	if !utils.FileExists(ignorePath) {
		return
	}

	file, err := os.Open(ignorePath)
	if err != nil {
		slog.Warn("ignore file open failed", "path", ignorePath, "error", err)
		return
	}
	defer file.Close()

	rules := 0
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if line != "" {
			l.extra = append(l.extra, line)
			rules++
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("ignore file read failed", "path", ignorePath, "error", err)
		return
	}

	lines := append([]string{}, defaultIgnoreLines...)
	lines = append(lines, l.extra...)
	l.ignore = gitignore.CompileIgnoreLines(lines...)
	slog.Info("loaded ignore file", "path", ignorePath, "rules", rules)
}

// ShouldIgnore reports whether the relative path is excluded from sync.
// Preserved conflict copies are always excluded, no matter what the rule
// files say, so they can never propagate to the other side.
func (l *IgnoreList) ShouldIgnore(path string) bool {
	if IsConflictMarkerPath(path) {
		return true
	}
	if l.ignore.MatchesPath(path) {
		return true
	}
	for _, pattern := range l.excludes {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}
