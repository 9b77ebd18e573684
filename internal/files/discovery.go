// Package files discovers run extract files for ingestion.
package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// extractExtensions are the extract file types the normalizer understands.
// Legacy OLE .xls workbooks are not supported and are not picked up.
var extractExtensions = map[string]bool{
	".xlsx": true,
	".csv":  true,
}

// FileInfo represents information about a discovered extract file.
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Discovery provides extract file discovery operations.
type Discovery struct {
	dir string
}

// NewDiscovery creates a file discovery instance over the input directory.
func NewDiscovery(dir string) *Discovery {
	return &Discovery{dir: dir}
}

// FindExtracts lists all extract files in the input directory. Results are
// sorted by file name, then modification time: ingest order feeds the dedup
// tie-break, so it must be deterministic and reproducible across runs.
func (d *Discovery) FindExtracts() ([]FileInfo, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", d.dir, err)
	}

	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !extractExtensions[strings.ToLower(filepath.Ext(name))] {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		files = append(files, FileInfo{
			Path:    filepath.Join(d.dir, name),
			Name:    name,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Name != files[j].Name {
			return files[i].Name < files[j].Name
		}
		return files[i].ModTime.Before(files[j].ModTime)
	})

	return files, nil
}
