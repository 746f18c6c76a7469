package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/stepflow-hq/stepflow/internal/domain"
)

const resultFilePrefix = "execution_result_"

// FileResultStore keeps run results as execution_result_<name>_<run>.json
// files. It implements domain.ExecutionResultRepository.
type FileResultStore struct {
	dir string
}

// NewFileResultStore creates a result store rooted at dir.
func NewFileResultStore(dir string) *FileResultStore {
	if dir == "" {
		dir = "output"
	}
	return &FileResultStore{dir: dir}
}

// ResultPath returns where the result of the given run is (or would be)
// stored.
func (s *FileResultStore) ResultPath(testName string, runID uuid.UUID) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s%s_%s.json", resultFilePrefix, domain.SafeName(testName), runID))
}

// Save writes a finished run result.
func (s *FileResultStore) Save(ctx context.Context, result *domain.ExecutionResult) error {
	raw, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}
	return writeFile(s.ResultPath(result.TestName, result.RunID), raw)
}

// GetByRunID loads a run result by its id.
func (s *FileResultStore) GetByRunID(ctx context.Context, runID uuid.UUID) (*domain.ExecutionResult, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, domain.NotFoundError("run", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}

	suffix := fmt.Sprintf("_%s.json", runID)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, resultFilePrefix) || !strings.HasSuffix(name, suffix) {
			continue
		}
		return s.readResult(name)
	}
	return nil, domain.NotFoundError("run", runID)
}

// ListByTestName returns all stored results for the named test, newest
// first.
func (s *FileResultStore) ListByTestName(ctx context.Context, testName string) ([]*domain.ExecutionResult, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", s.dir, err)
	}

	prefix := resultFilePrefix + domain.SafeName(testName) + "_"
	var results []*domain.ExecutionResult
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		result, err := s.readResult(name)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].StartedAt.After(results[j].StartedAt) })
	return results, nil
}

func (s *FileResultStore) readResult(name string) (*domain.ExecutionResult, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	var result domain.ExecutionResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", name, err)
	}
	return &result, nil
}
