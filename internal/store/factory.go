package store

import (
	"fmt"
	"path/filepath"
)

// Backend selects the page metadata implementation.
type Backend string

const (
	// BackendSQLite keeps page metadata in SQLite (default). WAL mode allows
	// a reader process next to the writer.
	BackendSQLite Backend = "sqlite"

	// BackendBleve keeps page metadata in a Bleve index. Single process only.
	BackendBleve Backend = "bleve"
)

// NewMetadataStore opens the metadata backend under dataDir. An empty
// dataDir opens an in-memory store.
func NewMetadataStore(dataDir string, backend string, readOnly bool) (MetadataStore, error) {
	switch Backend(backend) {
	case BackendSQLite, "":
		var path string
		if dataDir != "" {
			path = MetadataPath(dataDir, BackendSQLite)
		}
		return NewSQLiteMetadata(path)

	case BackendBleve:
		var path string
		if dataDir != "" {
			path = MetadataPath(dataDir, BackendBleve)
		}
		return NewBleveMetadata(path, readOnly)

	default:
		return nil, fmt.Errorf("unknown store backend: %s (valid options: sqlite, bleve)", backend)
	}
}

// MetadataPath returns the file or directory holding page metadata.
func MetadataPath(dataDir string, backend Backend) string {
	if backend == BackendBleve {
		return filepath.Join(dataDir, "pages.bleve")
	}
	return filepath.Join(dataDir, "pages.db")
}

// VectorPath returns the file holding the HNSW graph.
func VectorPath(dataDir string) string {
	return filepath.Join(dataDir, "vectors.hnsw")
}
