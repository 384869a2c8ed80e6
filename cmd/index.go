package cmd

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/sharepoint"
)

// Destination names carry the submission row number in one of two shapes:
// fallback names lead with it, custom names trail with it (optionally
// followed by a sibling index). Both are matched when normalizing, so files
// written under either scheme are recognized regardless of the scheme the
// current run classified.
var (
	fallbackNamePattern = regexp.MustCompile(`^row(\d+)_.+\.([A-Za-z0-9]+)$`)
	customNamePattern   = regexp.MustCompile(`^.+_(\d+)(?:-\d+)?\.([A-Za-z0-9]+)$`)
)

// fileIndex holds the destination state for one form folder: exact file
// names plus normalized row+extension keys. Lookups are conservative: a
// row+ext hit from either naming shape counts as existing.
type fileIndex struct {
	names  map[string]struct{}
	rowExt map[string]struct{}
}

func newFileIndex() *fileIndex {
	return &fileIndex{
		names:  make(map[string]struct{}),
		rowExt: make(map[string]struct{}),
	}
}

func rowExtKey(row int, ext string) string {
	return fmt.Sprintf("%d|%s", row, strings.ToLower(ext))
}

// Add registers a destination file name under both lookup keys.
func (ix *fileIndex) Add(name string) {
	ix.names[name] = struct{}{}
	if row, ext, ok := parseRowExt(name); ok {
		ix.rowExt[rowExtKey(row, ext)] = struct{}{}
	}
}

// Contains reports whether a file matching the resolved name already exists,
// by exact name or by row+extension.
func (ix *fileIndex) Contains(r resolvedName) bool {
	if _, ok := ix.names[r.Name]; ok {
		return true
	}
	if r.Ext == "" {
		return false
	}
	_, ok := ix.rowExt[rowExtKey(r.Row, r.Ext)]
	return ok
}

// parseRowExt extracts the row number and extension from a destination file
// name, trying the fallback shape first since its "row" prefix is the more
// specific marker.
func parseRowExt(name string) (int, string, bool) {
	if m := fallbackNamePattern.FindStringSubmatch(name); m != nil {
		if row, err := strconv.Atoi(m[1]); err == nil {
			return row, m[2], true
		}
	}
	if m := customNamePattern.FindStringSubmatch(name); m != nil {
		if row, err := strconv.Atoi(m[1]); err == nil {
			return row, m[2], true
		}
	}
	return 0, "", false
}

// buildFileIndex lists a form folder recursively and indexes every file
// found. A missing folder yields an empty index: nothing transferred yet.
func buildFileIndex(ctx context.Context, drive driveAPI, formFolder string) (*fileIndex, error) {
	ix := newFileIndex()

	pending := []string{formFolder}
	for len(pending) > 0 {
		folder := pending[0]
		pending = pending[1:]

		items, err := drive.ListChildren(ctx, folder)
		if err != nil {
			if errors.Is(err, sharepoint.ErrFolderNotFound) && folder == formFolder {
				return ix, nil
			}
			return nil, fmt.Errorf("failed to index %s: %w", folder, err)
		}

		for _, item := range items {
			if item.Folder {
				pending = append(pending, folder+"/"+item.Name)
				continue
			}
			ix.Add(item.Name)
		}
	}

	return ix, nil
}
