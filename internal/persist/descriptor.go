package persist

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// DescriptorVersion is the slicing descriptor format version.
const DescriptorVersion = 1

// Descriptor is the slicing descriptor: which execution points exist, in
// execution order.
type Descriptor struct {
	Version  int          `yaml:"version"`
	CacheKey string       `yaml:"cache_key"`
	Slices   []SliceEntry `yaml:"slices"`
}

// SliceEntry describes one execution point.
type SliceEntry struct {
	ID            int64  `yaml:"id"`
	MaxCacheCount uint32 `yaml:"max_cache_count"`
	Last          bool   `yaml:"last"`
}

// errNoDescriptor marks a cache directory that has never been saved.
var errNoDescriptor = errors.New("no slicing descriptor")

func readDescriptor(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errNoDescriptor
	}
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}

	var d Descriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	if d.Version != DescriptorVersion {
		return nil, fmt.Errorf("descriptor version %d, want %d", d.Version, DescriptorVersion)
	}
	seen := make(map[int64]bool, len(d.Slices))
	for _, s := range d.Slices {
		if seen[s.ID] {
			return nil, fmt.Errorf("descriptor lists slice %d twice", s.ID)
		}
		seen[s.ID] = true
	}
	return &d, nil
}

func writeDescriptor(path string, d *Descriptor) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal descriptor: %w", err)
	}
	return writeFileAtomic(path, data)
}
