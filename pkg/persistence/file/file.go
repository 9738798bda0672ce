// Package file provides file-based persistence for refresh schedules, executions
// and refresh targets. Every record is one JSON document under the root directory.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/refreshd/pkg/persistence"
)

const (
	schedulesDir   = "schedules"
	executionsDir  = "executions"
	dashboardsDir  = "dashboards"
	queriesDir     = "queries"
	dataSourcesDir = "datasources"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string
	// mu serialises writers so that Finish updates the execution and the
	// schedule as one step.
	mu sync.RWMutex

	scheduleRepo  *ScheduleRepository
	executionRepo *ExecutionRepository
	targetRepo    *TargetRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.scheduleRepo = &ScheduleRepository{store: p}
	p.executionRepo = &ExecutionRepository{store: p}
	p.targetRepo = &TargetRepository{store: p}

	return p
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) ScheduleRepository() persistence.ScheduleRepository {
	return fp.scheduleRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) TargetRepository() persistence.TargetRepository {
	return fp.targetRepo
}

// Targets exposes the concrete target repository so tests and local setups
// can seed dashboards, queries and data sources.
func (fp *Persistence) Targets() *TargetRepository {
	return fp.targetRepo
}

func (fp *Persistence) path(dir, id string) string {
	return filepath.Join(fp.root, dir, id+".json")
}

// read loads one record. It returns fs.ErrNotExist when the file is missing.
func (fp *Persistence) read(dir, id string, v any) error {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return fs.ErrNotExist
	}

	data, err := os.ReadFile(fp.path(dir, id))
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s/%s: %w", dir, id, err)
	}

	return nil
}

func (fp *Persistence) write(dir, id string, v any) error {
	if err := os.MkdirAll(filepath.Join(fp.root, dir), 0o750); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	tmp := fp.path(dir, id) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", dir, id, err)
	}

	return os.Rename(tmp, fp.path(dir, id))
}

func (fp *Persistence) remove(dir, id string) error {
	err := os.Remove(fp.path(dir, id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete %s/%s: %w", dir, id, err)
	}

	return err
}

// ids lists the record ids stored in dir.
func (fp *Persistence) ids(dir string) ([]string, error) {
	matches, err := fs.Glob(os.DirFS(fp.root), dir+"/*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	ids := make([]string, 0, len(matches))
	for _, match := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(match), ".json"))
	}

	return ids, nil
}

// readAll loads every record of dir through load.
func readAll[T any](fp *Persistence, dir string) ([]*T, error) {
	ids, err := fp.ids(dir)
	if err != nil {
		return nil, err
	}

	out := make([]*T, 0, len(ids))

	for _, id := range ids {
		record := new(T)

		err := fp.read(dir, id, record)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, err
		}

		out = append(out, record)
	}

	return out, nil
}
