// Package directory maps display names to the small integer identities the
// chat server routes by. The roster is fixed for the lifetime of the process.
package directory

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

var (
	// ErrEmptyRoster is returned when a roster lists no identities.
	ErrEmptyRoster = errors.New("directory: roster is empty")
	// ErrDuplicateName is returned when two identities share a name.
	ErrDuplicateName = errors.New("directory: duplicate name")
	// ErrEmptyName is returned for a blank identity name.
	ErrEmptyName = errors.New("directory: empty name")
	// ErrUnsupportedFormat is returned for roster files that are neither YAML nor TOML.
	ErrUnsupportedFormat = errors.New("directory: unsupported roster format")
)

// UnknownName is what Name returns for an id outside the roster.
const UnknownName = "?"

// Directory resolves names to identities and back.
type Directory interface {
	Lookup(name string) (int, bool)
	Name(id int) string
	Capacity() int
}

// Static is an immutable in-memory roster; ids are positions in the name list.
type Static struct {
	names []string
	ids   map[string]int
}

var _ Directory = (*Static)(nil)

// New builds a roster from names in id order.
func New(names ...string) (*Static, error) {
	if len(names) == 0 {
		return nil, ErrEmptyRoster
	}

	s := &Static{
		names: make([]string, len(names)),
		ids:   make(map[string]int, len(names)),
	}
	for id, name := range names {
		if name == "" {
			return nil, fmt.Errorf("%w at id %d", ErrEmptyName, id)
		}
		if prev, ok := s.ids[name]; ok {
			return nil, fmt.Errorf("%w %q (ids %d and %d)", ErrDuplicateName, name, prev, id)
		}
		s.names[id] = name
		s.ids[name] = id
	}
	return s, nil
}

// Default returns the reference roster A, B, C, D with ids 0 through 3.
func Default() *Static {
	s, err := New("A", "B", "C", "D")
	if err != nil {
		panic(err)
	}
	return s
}

// Lookup returns the id registered for name.
func (s *Static) Lookup(name string) (int, bool) {
	id, ok := s.ids[name]
	return id, ok
}

// Name returns the display name for id, or UnknownName.
func (s *Static) Name(id int) string {
	if id < 0 || id >= len(s.names) {
		return UnknownName
	}
	return s.names[id]
}

// Capacity is the number of identities in the roster.
func (s *Static) Capacity() int {
	return len(s.names)
}

// Names returns the roster in id order.
func (s *Static) Names() []string {
	return append([]string(nil), s.names...)
}

type rosterFile struct {
	Identities []string `yaml:"identities" toml:"identities"`
}

// Load reads a roster file. The format follows the extension: .yaml/.yml or .toml.
func Load(path string) (*Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var f rosterFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse roster %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse roster %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}

	names := make([]string, len(f.Identities))
	for i, name := range f.Identities {
		names[i] = strings.TrimSpace(name)
	}
	return New(names...)
}
