// SPDX-License-Identifier: MPL-2.0

package resolver

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"io"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Distribution is an installed package that provides modules.
type Distribution struct {
	Name     string `json:"name" yaml:"name"`
	Version  string `json:"version" yaml:"version"`
	Location string `json:"-" yaml:"-"`
	// TopLevel are the importable top-level names the distribution installs.
	TopLevel []string `json:"-" yaml:"-"`
}

// IndexDistributions reads every *.dist-info directory found directly in the
// given search path entries. Entries already indexed are skipped.
func (r *FileResolver) IndexDistributions(ctx context.Context, searchPath []string) error {
	r.mu.Lock()
	var todo []string
	for _, entry := range searchPath {
		if !r.indexed[entry] {
			r.indexed[entry] = true
			todo = append(todo, entry)
		}
	}
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, entry := range todo {
		matches, err := filepath.Glob(filepath.Join(entry, "*.dist-info"))
		if err != nil {
			return err
		}
		for _, dir := range matches {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				dist, err := readDistInfo(dir)
				if err != nil {
					r.logger.Warn("skipping unreadable distribution metadata", "path", dir, "err", err)
					return nil
				}
				dist.Location = entry
				r.addDistribution(dist)
				return nil
			})
		}
	}
	return g.Wait()
}

func (r *FileResolver) addDistribution(dist *Distribution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, top := range dist.TopLevel {
		r.dists[top] = append(r.dists[top], dist)
	}
}

// distributionFor finds the distribution that installed the module at path.
func (r *FileResolver) distributionFor(path, name string) *Distribution {
	top, _, _ := strings.Cut(name, ".")
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.dists[top] {
		if rel, err := filepath.Rel(d.Location, path); err == nil && !strings.HasPrefix(rel, "..") {
			return d
		}
	}
	return nil
}

func readDistInfo(dir string) (*Distribution, error) {
	dist, err := readMetadata(filepath.Join(dir, "METADATA"))
	if err != nil {
		return nil, err
	}

	top, err := readTopLevel(filepath.Join(dir, "top_level.txt"))
	if errors.Is(err, os.ErrNotExist) {
		top, err = readRecord(filepath.Join(dir, "RECORD"))
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	dist.TopLevel = top
	return dist, nil
}

// readMetadata parses the RFC 822 style header block of a METADATA file.
func readMetadata(path string) (*Distribution, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := textproto.NewReader(bufio.NewReader(f)).ReadMIMEHeader()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	name := header.Get("Name")
	if name == "" {
		return nil, errors.New("METADATA has no Name field")
	}
	return &Distribution{Name: name, Version: header.Get("Version")}, nil
}

func readTopLevel(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for line := range strings.Lines(string(data)) {
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, nil
}

// readRecord derives top-level names from the installed file list.
func readRecord(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	seen := make(map[string]bool)
	var names []string
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) == 0 {
			continue
		}
		first, rest, nested := strings.Cut(rec[0], "/")
		var top string
		switch {
		case nested && !strings.HasSuffix(first, ".dist-info") && !strings.HasSuffix(first, ".data") &&
			first != ".." && first != "__pycache__" && rest != "":
			top = first
		case !nested && strings.HasSuffix(first, ".py"):
			top = strings.TrimSuffix(first, ".py")
		}
		if top != "" && !seen[top] {
			seen[top] = true
			names = append(names, top)
		}
	}
	return names, nil
}
