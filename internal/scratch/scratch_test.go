package scratch

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"go.uber.org/multierr"
)

func TestDir_Path(t *testing.T) {
	t.Parallel()

	d, err := New(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p, err := d.Path("redfin_data_01012021000000.csv")
	if err != nil || filepath.Dir(p) != d.Root() {
		t.Fatalf("Path=%q err=%v", p, err)
	}
	for _, bad := range []string{"", ".", "..", "../x.csv", "sub/x.csv"} {
		if _, err := d.Path(bad); err == nil {
			t.Errorf("Path(%q) accepted", bad)
		}
	}
}

func TestDir_CreateAndRemove(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "nested", "scratch")
	d, err := New(root, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f, err := d.Create("a.csv")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, _ = f.WriteString("a\n")
	_ = f.Close()

	if err := Remove(f.Name(), filepath.Join(root, "never-existed.csv"), ""); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(f.Name()); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file still exists: %v", err)
	}
}

func TestRemove_CombinesErrors(t *testing.T) {
	t.Parallel()

	// Removing a non-empty directory fails on every platform.
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	for _, p := range []string{a, b} {
		if err := os.MkdirAll(filepath.Join(p, "child"), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	err := Remove(a, b)
	if err == nil {
		t.Fatalf("expected errors")
	}
	if n := len(multierr.Errors(err)); n != 2 {
		t.Fatalf("got %d combined errors; want 2 (%v)", n, err)
	}
}

func TestDir_CheckLowSpace(t *testing.T) {
	t.Parallel()

	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" && runtime.GOOS != "freebsd" {
		t.Skip("free space query unsupported")
	}
	d, err := New(t.TempDir(), ^uint64(0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Check(); !errors.Is(err, ErrLowSpace) {
		t.Fatalf("Check err=%v; want ErrLowSpace", err)
	}
	if _, err := d.Create("x.csv"); !errors.Is(err, ErrLowSpace) {
		t.Fatalf("Create err=%v; want ErrLowSpace", err)
	}

	free, err := FreeBytes(d.Root())
	if err != nil || free == 0 {
		t.Fatalf("FreeBytes=%d err=%v", free, err)
	}
}

func TestNew_EmptyDir(t *testing.T) {
	t.Parallel()

	if _, err := New("  ", 0); err == nil {
		t.Fatalf("expected error")
	}
}
