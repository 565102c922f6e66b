package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore reads workflow documents from a directory of JSON files, one per
// workflow, named <workflow_id>.json. Writing workflows is handled by the
// CRUD API outside the engine; the engine only loads.
type FileStore struct {
	baseDir string
}

// NewFileStore creates a store rooted at dir/workflows.
func NewFileStore(dir string) *FileStore {
	return &FileStore{baseDir: filepath.Join(dir, "workflows")}
}

// Load reads the workflow document with the given ID.
func (s *FileStore) Load(id string) (*Workflow, error) {
	if strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("invalid workflow id: %q", id)
	}

	path := filepath.Join(s.baseDir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}

	var wf Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow %s: %w", id, err)
	}
	if wf.ID == "" {
		wf.ID = id
	}

	return &wf, nil
}
