// Package calibration holds the operator-taught mapping from symbolic
// position names to physical arm coordinates.
package calibration

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/robot"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/types"
)

// Well-known position names used by the fixed washing sequence.
const (
	PosPickup       = "pickup"
	PosPickupLower  = "pickup_lower"
	PosWashStation  = "wash_station"
	PosRinseStation = "rinse_station"
	PosStack        = "stack"
	PosSafe         = "safe"
)

// RequiredForCycle are the positions a washing cycle cannot run without.
var RequiredForCycle = []string{PosPickup, PosWashStation, PosRinseStation, PosStack}

// MissingError reports calibrated positions a caller required but which
// are absent from the set.
type MissingError struct {
	Names []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing calibrated positions: %s", strings.Join(e.Names, ", "))
}

// Store persists calibration data; the concrete implementation lives
// outside this package.
type Store interface {
	LoadPositions() (map[string]types.Position, error)
	SavePositions(map[string]types.Position) error
}

// Set is the named-position table. Loaded once at startup and mutated only
// through explicit save/overwrite/delete operations.
type Set struct {
	mu        sync.RWMutex
	positions map[string]types.Position
	store     Store
}

func NewSet(store Store) *Set {
	return &Set{
		positions: make(map[string]types.Position),
		store:     store,
	}
}

// Load replaces the in-memory table with the stored one.
func (s *Set) Load() error {
	positions, err := s.store.LoadPositions()
	if err != nil {
		return fmt.Errorf("load calibration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = positions
	if s.positions == nil {
		s.positions = make(map[string]types.Position)
	}
	return nil
}

// Get looks up a position by name.
func (s *Set) Get(name string) (types.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[name]
	return pos, ok
}

// Put teaches or overwrites a named position and persists the table.
// Targets outside the workspace are rejected.
func (s *Set) Put(name string, pos types.Position) error {
	if name == "" {
		return fmt.Errorf("position name must not be empty")
	}
	if !robot.InWorkspace(pos.X, pos.Y, pos.Z) {
		return fmt.Errorf("position %q: %w", name, robot.ErrOutOfWorkspace)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[name] = pos
	return s.store.SavePositions(s.positions)
}

// Delete removes a named position and persists the table.
func (s *Set) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.positions[name]; !ok {
		return &MissingError{Names: []string{name}}
	}
	delete(s.positions, name)
	return s.store.SavePositions(s.positions)
}

// Names returns all taught position names, sorted.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.positions))
	for name := range s.positions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of taught positions.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// All returns a copy of the table.
func (s *Set) All() map[string]types.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]types.Position, len(s.positions))
	for k, v := range s.positions {
		out[k] = v
	}
	return out
}

// Require fails with a MissingError naming every absent position. Callers
// use it for pre-flight validation before any motion starts.
func (s *Set) Require(names ...string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []string
	for _, name := range names {
		if _, ok := s.positions[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return &MissingError{Names: missing}
	}
	return nil
}
