// SPDX-License-Identifier: MPL-2.0

// Package codeunit turns Python files into code units: compiled files are
// decoded directly, source files through a fresh __pycache__ entry when one
// exists and through the configured interpreter otherwise.
package codeunit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/shell"

	"github.com/invowk/pyfreeze/internal/bytecode"
	"github.com/invowk/pyfreeze/internal/pyc"
)

// compileScript writes a headered code object for argv[1] to stdout. The
// header carries no timestamp; only the magic number is checked.
const compileScript = `import sys, marshal, importlib.util
path = sys.argv[1]
with open(path, 'rb') as f:
    code = compile(f.read(), path, 'exec', dont_inherit=True)
sys.stdout.buffer.write(importlib.util.MAGIC_NUMBER + bytes(12) + marshal.dumps(code))
`

// hash-based .pyc flag bits.
const (
	flagHashBased   = 0x1
	flagCheckSource = 0x2
)

var (
	// ErrNoCompiler is returned for source files without a usable cache entry
	// when no interpreter is configured.
	ErrNoCompiler = errors.New("no interpreter configured to compile source files")
	// ErrVersionMismatch is returned when a compiled file targets another
	// interpreter version than the one being analyzed for.
	ErrVersionMismatch = errors.New("compiled for a different python version")
)

type (
	// Compiler compiles a source file into a .pyc image.
	Compiler interface {
		Compile(ctx context.Context, path string) ([]byte, error)
	}

	// InterpreterCompiler compiles with an external Python interpreter.
	InterpreterCompiler struct {
		argv   []string
		logger *log.Logger
	}

	// ProviderOptions configures a Provider.
	ProviderOptions struct {
		Version pyc.Version
		// Compiler is used for sources without a fresh cache entry; nil
		// disables compilation.
		Compiler Compiler
		Logger   *log.Logger
	}

	// Provider loads code units for one interpreter version.
	Provider struct {
		version  pyc.Version
		compiler Compiler
		logger   *log.Logger
	}

	// CompileError carries the interpreter's diagnostics.
	CompileError struct {
		Path   string
		Stderr string
		Err    error
	}
)

func (e *CompileError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = msg[i+1:]
	}
	if msg == "" {
		return fmt.Sprintf("compiling %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("compiling %s: %s", e.Path, msg)
}

// Unwrap returns the process error.
func (e *CompileError) Unwrap() error { return e.Err }

// NewInterpreterCompiler parses command with shell word splitting, so
// "env PYTHONHASHSEED=0 python3.10" or a quoted path both work.
func NewInterpreterCompiler(command string, logger *log.Logger) (*InterpreterCompiler, error) {
	argv, err := shell.Fields(command, nil)
	if err != nil {
		return nil, fmt.Errorf("parsing interpreter command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty interpreter command: %w", ErrNoCompiler)
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &InterpreterCompiler{argv: argv, logger: logger}, nil
}

// Argv returns the interpreter command line.
func (c *InterpreterCompiler) Argv() []string { return c.argv }

// Compile runs the interpreter on path.
func (c *InterpreterCompiler) Compile(ctx context.Context, path string) ([]byte, error) {
	args := append(c.argv[1:len(c.argv):len(c.argv)], "-c", compileScript, path)
	cmd := exec.CommandContext(ctx, c.argv[0], args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	c.logger.Debug("compiling", "path", path, "interpreter", c.argv[0])
	if err := cmd.Run(); err != nil {
		return nil, &CompileError{Path: path, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// NewProvider creates a Provider.
func NewProvider(opts ProviderOptions) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Provider{version: opts.Version, compiler: opts.Compiler, logger: logger}
}

// Version returns the interpreter version code is loaded for.
func (p *Provider) Version() pyc.Version { return p.version }

// CachePath returns where the interpreter caches the compiled form of source.
func (p *Provider) CachePath(source string) string {
	dir, file := filepath.Split(source)
	stem := strings.TrimSuffix(file, filepath.Ext(file))
	return filepath.Join(dir, "__pycache__", stem+"."+p.version.Tag()+".pyc")
}

// Load returns the code unit for path, a .py or .pyc file.
func (p *Provider) Load(ctx context.Context, path string) (*bytecode.CodeUnit, error) {
	if strings.EqualFold(filepath.Ext(path), ".pyc") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return p.decode(path, data)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	cached := p.CachePath(path)
	if data, err := os.ReadFile(cached); err == nil {
		if p.fresh(data, info) {
			p.logger.Debug("using cached bytecode", "path", path, "cache", cached)
			return p.decode(cached, data)
		}
		p.logger.Debug("cached bytecode is stale", "path", path, "cache", cached)
	}

	if p.compiler == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoCompiler)
	}
	data, err := p.compiler.Compile(ctx, path)
	if err != nil {
		return nil, err
	}
	return p.decode(path, data)
}

// fresh reports whether a cache entry still describes the source. Hash-based
// entries are only trusted when the interpreter would not check them either.
func (p *Provider) fresh(data []byte, source os.FileInfo) bool {
	h, err := pyc.ParseHeader(data)
	if err != nil || h.Version != p.version {
		return false
	}
	if h.Flags&flagHashBased != 0 {
		return h.Flags&flagCheckSource == 0
	}
	return int64(h.Mtime) == source.ModTime().Unix()&0xffffffff &&
		int64(h.SourceSize) == source.Size()&0xffffffff
}

func (p *Provider) decode(path string, data []byte) (*bytecode.CodeUnit, error) {
	unit, h, err := pyc.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if h.Version != p.version {
		return nil, fmt.Errorf("%s: %w: %s, want %s", path, ErrVersionMismatch, h.Version, p.version)
	}
	return unit, nil
}
