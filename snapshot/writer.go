package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

const filePattern = "snapshot-*.bin"

func fileName(seq uint64) string {
	return fmt.Sprintf("snapshot-%020d.bin", seq)
}

type Writer struct {
	Dir string
	// Keep is how many snapshots survive a write. Zero keeps two.
	Keep int
}

// Write stores s atomically: it is encoded to a temp file, synced and
// renamed into place, so a reader never sees a partial snapshot.
func (w *Writer) Write(s Snapshot) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(w.Dir, "snapshot-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(&s); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	path := filepath.Join(w.Dir, fileName(s.Seq))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, w.prune()
}

func (w *Writer) prune() error {
	keep := w.Keep
	if keep <= 0 {
		keep = 2
	}
	files, err := list(w.Dir)
	if err != nil {
		return err
	}
	for len(files) > keep {
		if err := os.Remove(files[0]); err != nil {
			return err
		}
		files = files[1:]
	}
	return nil
}

// list returns snapshot files oldest first.
func list(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, filePattern))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
