package workdir

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"reelsmith/internal/logging"
	"reelsmith/internal/testsupport"
)

func TestCleanStaleInvalidPaths(t *testing.T) {
	for _, dir := range []string{"", "   ", "/nonexistent/path/12345"} {
		result := CleanStale(context.Background(), dir, time.Hour, nil, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestCleanStaleRemovesOldDirectories(t *testing.T) {
	tmpDir := t.TempDir()
	oldTime := time.Now().Add(-2 * time.Hour)

	mkdir := func(name string, old bool) string {
		path := filepath.Join(tmpDir, name)
		if err := os.Mkdir(path, 0o755); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if err := os.WriteFile(filepath.Join(path, "segment.mp4"), []byte("clip"), 0o644); err != nil {
			t.Fatalf("write segment: %v", err)
		}
		if old {
			if err := os.Chtimes(path, oldTime, oldTime); err != nil {
				t.Fatalf("set old time: %v", err)
			}
		}
		return path
	}
	oldDir := mkdir("old-render", true)
	keptDir := mkdir("active-render", true)
	recentDir := mkdir("recent-render", false)

	keep := map[string]struct{}{"active-render": {}}
	result := CleanStale(context.Background(), tmpDir, time.Hour, keep, logging.NewNop())

	if len(result.Removed) != 1 || result.Removed[0] != oldDir {
		t.Fatalf("expected only %s removed, got %v", oldDir, result.Removed)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Error("old directory should have been removed")
	}
	for _, dir := range []string{keptDir, recentDir} {
		if _, err := os.Stat(dir); err != nil {
			t.Errorf("%s should still exist", dir)
		}
	}
}

func TestListDirectoriesReportsSize(t *testing.T) {
	tmpDir := t.TempDir()
	testsupport.WriteFile(t, filepath.Join(tmpDir, "render-1", "graded.mp4"), 64*1024+10)
	if err := os.WriteFile(filepath.Join(tmpDir, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	dirs, err := ListDirectories(tmpDir)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 1 || dirs[0].Name != "render-1" || dirs[0].Size != 64*1024+10 {
		t.Fatalf("unexpected dirs %+v", dirs)
	}
}
