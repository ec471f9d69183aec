package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/roach88/guardcache/internal/graph"
)

// sliceDump is the on-disk form of slices/<id>.json.
type sliceDump struct {
	Sliced    json.RawMessage `json:"sliced"`
	Remaining json.RawMessage `json:"remaining,omitempty"`
}

func sliceFile(id int64) string {
	return filepath.Join(SlicesDir, strconv.FormatInt(id, 10)+".json")
}

func graphFile(guardKey string) string {
	return filepath.Join(GraphsDir, guardKey+".json")
}

func encodeSlice(sliced, remaining *graph.Graph) ([]byte, error) {
	var d sliceDump
	var err error
	if d.Sliced, err = sliced.MarshalCanonical(); err != nil {
		return nil, fmt.Errorf("dump sliced graph: %w", err)
	}
	if remaining != nil {
		if d.Remaining, err = remaining.MarshalCanonical(); err != nil {
			return nil, fmt.Errorf("dump remaining graph: %w", err)
		}
	}
	return json.Marshal(d)
}

func decodeSlice(data []byte) (sliced, remaining *graph.Graph, err error) {
	var d sliceDump
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, nil, fmt.Errorf("parse slice dump: %w", err)
	}
	if len(d.Sliced) == 0 {
		return nil, nil, fmt.Errorf("slice dump has no sliced graph")
	}
	if sliced, err = graph.Unmarshal(d.Sliced); err != nil {
		return nil, nil, fmt.Errorf("sliced graph: %w", err)
	}
	if len(d.Remaining) > 0 && string(d.Remaining) != "null" {
		if remaining, err = graph.Unmarshal(d.Remaining); err != nil {
			return nil, nil, fmt.Errorf("remaining graph: %w", err)
		}
	}
	return sliced, remaining, nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place, so readers see either the old or the new content.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // No-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
