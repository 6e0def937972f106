package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultOutputDir is used when no report directory is configured
const DefaultOutputDir = "results"

// ReportPath builds <dir>/<name>_<timestamp>.<ext>. An empty dir selects
// DefaultOutputDir.
func ReportPath(dir, name, ext string, now time.Time) string {
	if strings.TrimSpace(dir) == "" {
		dir = DefaultOutputDir
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "report"
	}
	ext = strings.TrimPrefix(ext, ".")

	return filepath.Join(dir, fmt.Sprintf("%s_%s.%s", name, now.UTC().Format("20060102_150405"), ext))
}

// EnsureDirectoryExists creates the parent directory of path
func EnsureDirectoryExists(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
