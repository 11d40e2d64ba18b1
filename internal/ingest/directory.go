package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScanOptions controls directory discovery.
type ScanOptions struct {
	Recursive   bool
	SkipHidden  bool
	IncludeExts []string // lowercase without '.'; empty -> constants.AllowedExtensions
}

// ScanStats summarizes a directory scan.
type ScanStats struct {
	Scanned uint32
	Matched uint32
	Skipped uint32
}

// ScanDirectory lists the documents under root in a stable order: sorted by
// path, case-insensitively. Unreadable subdirectories are logged and
// skipped; only a missing or unreadable root is an error.
func ScanDirectory(ctx context.Context, root string, opts ScanOptions, logger *slog.Logger) ([]string, ScanStats, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var stats ScanStats
	if strings.TrimSpace(root) == "" {
		return nil, stats, errors.New("input directory is required")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, stats, fmt.Errorf("stat input directory: %w", err)
	}
	if !info.IsDir() {
		return nil, stats, fmt.Errorf("input path %q is not a directory", root)
	}

	exts := extSet(opts.IncludeExts)
	var paths []string

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			logger.Warn("ingest.scan.walk_error", "path", path, "error", walkErr)
			return nil
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if !opts.Recursive || (opts.SkipHidden && IsHidden(path)) {
				return filepath.SkipDir
			}
			return nil
		}

		stats.Scanned++
		if opts.SkipHidden && IsHidden(path) {
			stats.Skipped++
			return nil
		}
		if !d.Type().IsRegular() {
			stats.Skipped++
			return nil
		}
		if !allowed(path, exts) {
			stats.Skipped++
			return nil
		}
		stats.Matched++
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk: %w", err)
	}

	sort.Slice(paths, func(i, j int) bool {
		a, b := strings.ToLower(paths[i]), strings.ToLower(paths[j])
		if a == b {
			return paths[i] < paths[j]
		}
		return a < b
	})

	logger.Info("ingest.scan.done",
		"root", root,
		"recursive", opts.Recursive,
		"scanned", stats.Scanned,
		"matched", stats.Matched,
		"skipped", stats.Skipped,
	)
	return paths, stats, nil
}
