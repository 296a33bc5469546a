// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

// start runs w in the background and returns a channel with each callback's
// paths plus a stop function that waits for Run to return.
func start(t *testing.T, cfg Config) (<-chan []string, func()) {
	t.Helper()
	changes := make(chan []string, 16)
	cfg.OnChange = func(_ context.Context, changed []string) error {
		changes <- changed
		return nil
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	return changes, func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}
}

func write(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func await(t *testing.T, changes <-chan []string) []string {
	t.Helper()
	select {
	case changed := <-changes:
		return changed
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a change")
		return nil
	}
}

func TestWatcher_Debounce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	changes, stop := start(t, Config{Roots: []string{dir}, Debounce: 150 * time.Millisecond})
	defer stop()

	for _, name := range []string{"a.py", "b.py", "c.py"} {
		write(t, filepath.Join(dir, name))
		time.Sleep(10 * time.Millisecond)
	}

	changed := await(t, changes)
	for _, name := range []string{"a.py", "b.py", "c.py"} {
		if !slices.Contains(changed, filepath.Join(dir, name)) {
			t.Errorf("expected %s in %v", name, changed)
		}
	}
	if !slices.IsSorted(changed) {
		t.Errorf("changed paths are not sorted: %v", changed)
	}

	select {
	case extra := <-changes:
		t.Errorf("expected a single callback, got another with %v", extra)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_IgnoresIrrelevantFiles(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "__pycache__"), 0o755); err != nil {
		t.Fatal(err)
	}
	changes, stop := start(t, Config{Roots: []string{dir}, Ignore: []string{"**/generated_*.py"}})
	defer stop()

	write(t, filepath.Join(dir, "notes.txt"))
	write(t, filepath.Join(dir, "__pycache__", "m.cpython-310.pyc"))
	write(t, filepath.Join(dir, "generated_api.py"))
	write(t, filepath.Join(dir, "real.py"))

	changed := await(t, changes)
	if want := []string{filepath.Join(dir, "real.py")}; !slices.Equal(changed, want) {
		t.Errorf("changed = %v, want %v", changed, want)
	}
}

func TestWatcher_NewDirectory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	changes, stop := start(t, Config{Roots: []string{dir}})
	defer stop()

	pkg := filepath.Join(dir, "pkg")
	if err := os.Mkdir(pkg, 0o755); err != nil {
		t.Fatal(err)
	}
	// Give the watcher time to register the new directory.
	time.Sleep(100 * time.Millisecond)
	write(t, filepath.Join(pkg, "__init__.py"))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case changed := <-changes:
			if slices.Contains(changed, filepath.Join(pkg, "__init__.py")) {
				return
			}
		case <-deadline:
			t.Fatal("no change reported for a file in a new directory")
		}
	}
}

func TestWatcher_ContextCancel(t *testing.T) {
	t.Parallel()
	w, err := New(Config{Roots: []string{t.TempDir()}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run() on a cancelled context = %v, want nil", err)
	}
	if err := w.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"no roots", Config{}, ErrNoRoots},
		{"bad pattern", Config{Roots: []string{t.TempDir()}, Patterns: []string{"[a-"}}, doublestar.ErrBadPattern},
		{"bad ignore", Config{Roots: []string{t.TempDir()}, Ignore: []string{"{a,"}}, doublestar.ErrBadPattern},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestWatcher_Relevant(t *testing.T) {
	t.Parallel()
	app := t.TempDir()
	hooksDir := t.TempDir()
	w, err := New(Config{Roots: []string{app, hooksDir, app, filepath.Join(app, "missing")}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = w.fsw.Close() })

	if got := w.Roots(); len(got) != 3 {
		t.Errorf("Roots() = %v, want duplicates removed", got)
	}

	tests := []struct {
		path string
		want bool
	}{
		{filepath.Join(app, "main.py"), true},
		{filepath.Join(app, "pkg", "mod.pyc"), true},
		{filepath.Join(app, "_speedups.cpython-310-x86_64-linux-gnu.so"), true},
		{filepath.Join(app, "requests-2.0.dist-info", "top_level.txt"), true},
		{filepath.Join(hooksDir, "hook-yaml.toml"), true},
		{filepath.Join(app, "README.md"), false},
		{filepath.Join(app, ".git", "x.py"), false},
		{filepath.Join(app, ".venv", "lib", "site.py"), false},
		{filepath.Join(filepath.Dir(app), "elsewhere.py"), false},
	}
	for _, tt := range tests {
		if got := w.relevant(tt.path); got != tt.want {
			t.Errorf("relevant(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDefaults_AreCopies(t *testing.T) {
	t.Parallel()
	p := DefaultPatterns()
	p[0] = "changed"
	if DefaultPatterns()[0] == "changed" {
		t.Error("DefaultPatterns() exposes the package slice")
	}
	i := DefaultIgnores()
	i[0] = "changed"
	if DefaultIgnores()[0] == "changed" {
		t.Error("DefaultIgnores() exposes the package slice")
	}
}
