package debug

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/recera/wirepage/pkg/loader"
)

func TestEnableLogging(t *testing.T) {
	var lines []string
	EnableLogging(func(args ...interface{}) {
		lines = append(lines, fmt.Sprint(args...))
	})
	defer DisableLogging()

	dir := t.TempDir()
	l, err := loader.New(loader.Options{PagesDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	l.Invalidate(filepath.Join(dir, "index.wire"))

	if len(lines) != 1 || !strings.Contains(lines[0], "invalidated 0 units") {
		t.Errorf("Expected the loader to log, got %v", lines)
	}

	DisableLogging()
	l.Invalidate(filepath.Join(dir, "index.wire"))
	if len(lines) != 1 {
		t.Errorf("Expected no output after DisableLogging, got %v", lines)
	}
}
