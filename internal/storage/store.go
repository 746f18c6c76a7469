// Package storage persists recorded test cases, execution results and
// evidence artifacts. The file stores are always available and are the
// default backend; object storage mirrors artifacts when configured.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

const testFilePrefix = "test_"

// FileStore keeps test cases as test_<name>.json files in one output
// directory. It implements domain.TestCaseRepository.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = "output"
	}
	return &FileStore{dir: dir}
}

// Dir returns the store's root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

// TestCasePath returns where the named test case is (or would be) stored.
func (s *FileStore) TestCasePath(name string) string {
	return filepath.Join(s.dir, testFilePrefix+domain.SafeName(name)+".json")
}

// Save writes the test case, replacing any previous recording of the same
// name.
func (s *FileStore) Save(ctx context.Context, tc *domain.TestCase) error {
	if err := tc.Validate(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(tc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling test case: %w", err)
	}
	return writeFile(s.TestCasePath(tc.Name), raw)
}

// GetByName loads a test case by its recorded name.
func (s *FileStore) GetByName(ctx context.Context, name string) (*domain.TestCase, error) {
	raw, err := os.ReadFile(s.TestCasePath(name))
	if os.IsNotExist(err) {
		return nil, domain.NotFoundError("test case", name)
	}
	if err != nil {
		return nil, fmt.Errorf("reading test case: %w", err)
	}
	var tc domain.TestCase
	if err := json.Unmarshal(raw, &tc); err != nil {
		return nil, fmt.Errorf("parsing test case %s: %w", name, err)
	}
	return &tc, nil
}

// LoadFile loads a test case from an explicit file path, for CLI use where
// the caller points at a file instead of a stored name.
func (s *FileStore) LoadFile(path string) (*domain.TestCase, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading test file: %w", err)
	}
	var tc domain.TestCase
	if err := json.Unmarshal(raw, &tc); err != nil {
		return nil, fmt.Errorf("parsing test file %s: %w", path, err)
	}
	return &tc, nil
}

// List returns every stored test case, sorted by name.
func (s *FileStore) List(ctx context.Context) ([]*domain.TestCase, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}

	var cases []*domain.TestCase
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, testFilePrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", name, err)
		}
		var tc domain.TestCase
		if err := json.Unmarshal(raw, &tc); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		cases = append(cases, &tc)
	}

	sort.Slice(cases, func(i, j int) bool { return cases[i].Name < cases[j].Name })
	return cases, nil
}

// Delete removes a stored test case.
func (s *FileStore) Delete(ctx context.Context, name string) error {
	err := os.Remove(s.TestCasePath(name))
	if os.IsNotExist(err) {
		return domain.NotFoundError("test case", name)
	}
	return err
}

func writeFile(path string, raw []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
