// Package learning persists strategy learning records.
//
// When a stage recovers from failures by switching strategies, the engine
// emits a record of the path it took. Records are appended to a JSON
// registry on disk with UUID tracking so an external memory system can
// ingest them later. The engine itself never reads records back; the
// registry exists purely as a producer-side buffer.
package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/ticketd/internal/strategy"
)

// ErrRegistryCorrupted indicates the registry file exists but cannot be
// decoded.
var ErrRegistryCorrupted = errors.New("learning registry corrupted")

// Record is one persisted learning record.
type Record struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	CreatedAt time.Time `json:"created_at"`

	strategy.LearningRecord
}

// registryData is the persisted file structure.
type registryData struct {
	Version int       `json:"version"`
	Records []*Record `json:"records"`
}

// Registry is a thread-safe, file-backed learning record store.
type Registry struct {
	mu       sync.RWMutex
	filePath string
	data     *registryData
}

// NewRegistry opens or creates the registry at path. An empty path defaults
// to ~/.config/ticketd/learning.json.
func NewRegistry(path string) (*Registry, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, ".config", "ticketd", "learning.json")
	}

	r := &Registry{
		filePath: path,
		data:     &registryData{Version: 1},
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) load() error {
	content, err := os.ReadFile(r.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read learning registry: %w", err)
	}
	var data registryData
	if err := json.Unmarshal(content, &data); err != nil {
		return fmt.Errorf("%w: %v", ErrRegistryCorrupted, err)
	}
	r.data = &data
	return nil
}

// save writes the registry atomically: temp file in the same directory, then
// rename.
func (r *Registry) save() error {
	dir := filepath.Dir(r.filePath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	content, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode learning registry: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".learning-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write learning registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, r.filePath); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace learning registry: %w", err)
	}
	return nil
}

// RecordInput is the activity payload for persisting one learning record.
type RecordInput struct {
	TicketID string                  `json:"ticket_id"`
	Record   strategy.LearningRecord `json:"record"`
}

// RecordLearning persists a learning record. Registered as a Temporal
// activity; the UUID and timestamp are assigned here so workflow code stays
// deterministic.
func (r *Registry) RecordLearning(ctx context.Context, in RecordInput) (*Record, error) {
	rec := &Record{
		ID:             uuid.NewString(),
		TicketID:       in.TicketID,
		CreatedAt:      time.Now().UTC(),
		LearningRecord: in.Record,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.Records = append(r.data.Records, rec)
	if err := r.save(); err != nil {
		r.data.Records = r.data.Records[:len(r.data.Records)-1]
		return nil, err
	}
	return rec, nil
}

// ByStage returns records for one stage kind, newest last.
func (r *Registry) ByStage(stage strategy.Kind) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Record
	for _, rec := range r.data.Records {
		if rec.Stage == stage {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of stored records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data.Records)
}
