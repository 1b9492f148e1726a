package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dreamware/depot/internal/metrics"
)

const tempPattern = ".depot-*.tmp"

// DiskConfig holds local filesystem medium settings.
type DiskConfig struct {
	Root       string `yaml:"root"`
	CreateDirs bool   `yaml:"create_dirs"`
}

// DiskMedium implements Medium as a flat directory of objects.
type DiskMedium struct {
	root string
}

// NewDiskMedium checks the root directory and returns a medium rooted there.
// An unreachable root is a startup failure.
func NewDiskMedium(cfg DiskConfig) (*DiskMedium, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("root is required")
	}

	info, err := os.Stat(cfg.Root)
	if err != nil {
		if os.IsNotExist(err) && cfg.CreateDirs {
			if mkErr := os.MkdirAll(cfg.Root, 0o755); mkErr != nil {
				return nil, fmt.Errorf("create root %s: %w", cfg.Root, mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat root %s: %w", cfg.Root, err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", cfg.Root)
	}

	d := &DiskMedium{root: cfg.Root}
	d.removeTemp()
	return d, nil
}

// removeTemp deletes temp files left by a Put that was interrupted by a crash.
func (d *DiskMedium) removeTemp() {
	matches, _ := filepath.Glob(filepath.Join(d.root, tempPattern))
	for _, m := range matches {
		os.Remove(m)
	}
}

func (d *DiskMedium) path(loc Location) (string, error) {
	s := string(loc)
	if s == "" || s != filepath.Base(s) || s == "." || s == ".." {
		return "", fmt.Errorf("bad location %q", s)
	}
	return filepath.Join(d.root, s), nil
}

// Put writes data to a temp file, syncs it and renames it into place.
func (d *DiskMedium) Put(ctx context.Context, loc Location, data []byte) (err error) {
	start := time.Now()
	defer func() { metrics.RecordMediumOperation("disk", "put", time.Since(start), err == nil) }()

	path, err := d.path(loc)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.root, tempPattern)
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", loc, err)
	}
	tmpName := tmp.Name()

	n, err := tmp.Write(data)
	if err == nil && n != len(data) {
		err = io.ErrShortWrite
	}
	if err == nil {
		err = tmp.Sync()
	}
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", loc, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", loc, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp to %s: %w", loc, err)
	}
	return nil
}

// Get reads a whole object.
func (d *DiskMedium) Get(_ context.Context, loc Location) (data []byte, err error) {
	start := time.Now()
	defer func() { metrics.RecordMediumOperation("disk", "get", time.Since(start), err == nil) }()

	path, err := d.path(loc)
	if err != nil {
		return nil, err
	}
	data, err = os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", loc, err)
	}
	return data, nil
}

// Delete removes an object. Missing objects are ignored.
func (d *DiskMedium) Delete(_ context.Context, loc Location) (err error) {
	start := time.Now()
	defer func() { metrics.RecordMediumOperation("disk", "delete", time.Since(start), err == nil) }()

	path, err := d.path(loc)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", loc, err)
	}
	return nil
}

// List returns regular files in the root, skipping in-flight temp files.
func (d *DiskMedium) List(_ context.Context) ([]ObjectInfo, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.root, err)
	}

	objects := make([]ObjectInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if ok, _ := filepath.Match(tempPattern, entry.Name()); ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		objects = append(objects, ObjectInfo{Location: Location(entry.Name()), Size: info.Size()})
	}
	return objects, nil
}

// Root returns the directory objects live in.
func (d *DiskMedium) Root() string { return d.root }

// Type returns "disk".
func (d *DiskMedium) Type() string { return "disk" }

// Close is a no-op for disk media.
func (d *DiskMedium) Close() error { return nil }
