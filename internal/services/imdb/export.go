package imdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ExportKind names one IMDb export
type ExportKind string

const (
	ExportWatchlist ExportKind = "watchlist"
	ExportRatings   ExportKind = "ratings"
	ExportCheckins  ExportKind = "checkins"
	// ExportReviews is the JSON file the worker writes after scraping the profile
	ExportReviews ExportKind = "reviews"
)

// ErrNoExport means the account has no export of that kind yet
var ErrNoExport = errors.New("no export found")

// ExportFetcher yields the newest raw export of a kind
type ExportFetcher interface {
	// Check reports whether exports can be read at all
	Check(ctx context.Context) error
	// Fetch returns the export content and its file name
	Fetch(ctx context.Context, kind ExportKind) ([]byte, string, error)
}

// DirFetcher reads exports dropped into a directory, picking the most
// recently modified file whose name starts with the kind
type DirFetcher struct {
	dir string
}

// NewDirFetcher creates a fetcher for dir
func NewDirFetcher(dir string) *DirFetcher {
	return &DirFetcher{dir: dir}
}

func (f *DirFetcher) Check(ctx context.Context) error {
	if f.dir == "" {
		return errors.New("export_dir is not configured")
	}
	info, err := os.Stat(f.dir)
	if err != nil {
		return fmt.Errorf("failed to read export directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", f.dir)
	}
	return nil
}

func (f *DirFetcher) Fetch(ctx context.Context, kind ExportKind) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list exports: %w", err)
	}

	ext := ".csv"
	if kind == ExportReviews {
		ext = ".json"
	}

	type candidate struct {
		name  string
		mtime int64
	}
	var found []candidate
	for _, e := range entries {
		name := e.Name()
		lower := strings.ToLower(name)
		if e.IsDir() || !strings.HasPrefix(lower, string(kind)) || !strings.HasSuffix(lower, ext) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, candidate{name: name, mtime: info.ModTime().UnixNano()})
	}
	if len(found) == 0 {
		return nil, "", fmt.Errorf("%s: %w", kind, ErrNoExport)
	}
	sort.Slice(found, func(i, j int) bool {
		if found[i].mtime != found[j].mtime {
			return found[i].mtime > found[j].mtime
		}
		return found[i].name > found[j].name
	})

	data, err := os.ReadFile(filepath.Join(f.dir, found[0].name))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s export: %w", kind, err)
	}
	return data, found[0].name, nil
}
