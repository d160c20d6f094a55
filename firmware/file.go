package firmware

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DirSource serves the .bin files of a local directory.
type DirSource struct {
	dir string
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir}
}

func (s *DirSource) List(ctx context.Context) ([]Release, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	list := []Release{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".bin") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		list = append(list, Release{
			Name:        e.Name(),
			Version:     "local",
			Size:        info.Size(),
			Published:   info.ModTime(),
			ChipType:    ChipTypeFromName(e.Name()),
			DownloadRef: filepath.Join(s.dir, e.Name()),
		})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].Published.After(list[j].Published) })
	return list, nil
}

// Fetch reads a file. Paths outside the directory are rejected.
func (s *DirSource) Fetch(ctx context.Context, ref string) ([]byte, error) {
	rel, err := filepath.Rel(s.dir, ref)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%s is outside %s", ref, s.dir)
	}
	return ReadFile(ref)
}

// ReadFile loads a local image, refusing files larger than any flash.
func ReadFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxImageSize {
		return nil, fmt.Errorf("%s is larger than %s", path, FormatSize(MaxImageSize))
	}
	return os.ReadFile(path)
}
