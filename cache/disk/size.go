package disk

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type blobFile struct {
	path    string
	size    int64
	modTime time.Time
}

// walkBlobs visits committed blobs, skipping in-progress temp files.
func walkBlobs(root string, fn func(blobFile)) error {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), "blob-") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		fn(blobFile{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func dirSize(root string) (int64, error) {
	var total int64
	err := walkBlobs(root, func(b blobFile) { total += b.size })
	return total, err
}

func pruneDir(root string, target int64) (freed, remaining int64, err error) {
	target = max(target, 0)

	var files []blobFile
	if err := walkBlobs(root, func(b blobFile) {
		files = append(files, b)
		remaining += b.size
	}); err != nil {
		return 0, 0, err
	}
	if remaining <= target {
		return 0, remaining, nil
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})
	for _, f := range files {
		if remaining <= target {
			break
		}
		if err := os.Remove(f.path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return freed, remaining, err
		}
		remaining -= f.size
		freed += f.size
	}
	return freed, remaining, nil
}
