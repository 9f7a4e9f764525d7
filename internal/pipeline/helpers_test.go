package pipeline

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/marquee/marquee/internal/config"
	"github.com/marquee/marquee/internal/lock"
)

func lockHeld(cfg *config.Config) (bool, int, error) {
	return lock.IsHeld(cfg.Paths.LockFile)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func csvFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	if len(names) != 5 {
		t.Fatalf("expected 5 CSV files, got %v", names)
	}
	return names
}
