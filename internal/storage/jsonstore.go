// Package storage persists calibration, settings, programs and logs as
// flat JSON files under a data directory.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/program"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/types"
)

// Retention caps for the append-only logs.
const (
	MaxWashLogEntries  = 1000
	MaxErrorLogEntries = 500
)

const (
	positionsFile = "positions.json"
	settingsFile  = "settings.json"
	washLogFile   = "wash_log.json"
	errorLogFile  = "error_log.json"
	programsDir   = "programs"
)

// JSONStore reads and writes all persistent state. All methods are safe
// for concurrent use.
type JSONStore struct {
	logger    *zap.Logger
	dataDir   string
	validator *program.Validator

	mu sync.Mutex
}

// NewJSONStore creates the data directory tree if needed.
func NewJSONStore(logger *zap.Logger, dataDir string, validator *program.Validator) (*JSONStore, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, programsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &JSONStore{
		logger:    logger,
		dataDir:   dataDir,
		validator: validator,
	}, nil
}

func (s *JSONStore) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

func (s *JSONStore) readJSON(name string, v interface{}) (bool, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return true, nil
}

func (s *JSONStore) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp := s.path(name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, s.path(name)); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// LoadPositions returns the calibrated positions, or an empty map when
// none were saved yet.
func (s *JSONStore) LoadPositions() (map[string]types.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	positions := make(map[string]types.Position)
	if _, err := s.readJSON(positionsFile, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// SavePositions replaces the stored calibration.
func (s *JSONStore) SavePositions(positions map[string]types.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(positionsFile, positions)
}

// LoadSettings returns the stored settings. The second return value is
// false when no settings file exists yet.
func (s *JSONStore) LoadSettings() (Settings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var settings Settings
	ok, err := s.readJSON(settingsFile, &settings)
	return settings, ok, err
}

func (s *JSONStore) SaveSettings(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeJSON(settingsFile, settings)
}

// AppendCycleRecord assigns ID and timestamp and appends the record to
// the wash log, trimming the oldest entries past the cap.
func (s *JSONStore) AppendCycleRecord(rec CycleRecord) (CycleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = uuid.New().String()
	rec.Timestamp = time.Now()

	var log []CycleRecord
	if _, err := s.readJSON(washLogFile, &log); err != nil {
		return rec, err
	}
	log = append(log, rec)
	if len(log) > MaxWashLogEntries {
		log = log[len(log)-MaxWashLogEntries:]
	}
	return rec, s.writeJSON(washLogFile, log)
}

// WashLog returns the stored cycle records, newest last.
func (s *JSONStore) WashLog() ([]CycleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var log []CycleRecord
	if _, err := s.readJSON(washLogFile, &log); err != nil {
		return nil, err
	}
	return log, nil
}

// AppendError records an error in the persistent error log.
func (s *JSONStore) AppendError(source, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var log []ErrorRecord
	if _, err := s.readJSON(errorLogFile, &log); err != nil {
		return err
	}
	log = append(log, ErrorRecord{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Source:    source,
		Message:   message,
	})
	if len(log) > MaxErrorLogEntries {
		log = log[len(log)-MaxErrorLogEntries:]
	}
	return s.writeJSON(errorLogFile, log)
}

// ErrorLog returns the stored error records, newest last.
func (s *JSONStore) ErrorLog() ([]ErrorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var log []ErrorRecord
	if _, err := s.readJSON(errorLogFile, &log); err != nil {
		return nil, err
	}
	return log, nil
}

func programFileName(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid program name %q", name)
	}
	return name + ".json", nil
}

// SaveProgram validates and stores a wash program under its name.
func (s *JSONStore) SaveProgram(p program.Program) error {
	file, err := programFileName(p.Name)
	if err != nil {
		return err
	}
	if err := s.validator.ValidateProgram(&p); err != nil {
		return fmt.Errorf("program %q: %w", p.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p.LastModified = time.Now().Format(time.RFC3339)
	return s.writeJSON(filepath.Join(programsDir, file), p)
}

// LoadProgram reads and re-validates a stored program.
func (s *JSONStore) LoadProgram(name string) (program.Program, error) {
	file, err := programFileName(name)
	if err != nil {
		return program.Program{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(filepath.Join(programsDir, file)))
	if os.IsNotExist(err) {
		return program.Program{}, fmt.Errorf("program %q not found", name)
	}
	if err != nil {
		return program.Program{}, fmt.Errorf("read program %q: %w", name, err)
	}

	p, err := program.Parse(data)
	if err != nil {
		return program.Program{}, fmt.Errorf("program %q: %w", name, err)
	}
	if err := s.validator.ValidateProgram(p); err != nil {
		return program.Program{}, fmt.Errorf("program %q: %w", name, err)
	}
	return *p, nil
}

// ListPrograms returns the names of all stored programs, sorted.
func (s *JSONStore) ListPrograms() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.path(programsDir))
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// DeleteProgram removes a stored program.
func (s *JSONStore) DeleteProgram(name string) error {
	file, err := programFileName(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(filepath.Join(programsDir, file))); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("program %q not found", name)
		}
		return fmt.Errorf("delete program %q: %w", name, err)
	}
	return nil
}
