package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sharedline/slad/internal/sla"
)

// extensionsFile is the on-disk shape of the shared extensions document:
//
//	{
//	  "sharedExtensions": [
//	    {"42": {"stations": ["PJSIP/phone1", "PJSIP/phone2"], "trunks": ["trunkA"]}}
//	  ]
//	}
//
// Each array element is a single-key object naming one extension.
type extensionsFile struct {
	SharedExtensions []map[string]extensionEntry `json:"sharedExtensions"`
}

type extensionEntry struct {
	Stations []string `json:"stations"`
	Trunks   []string `json:"trunks"`
}

// Extensions holds the shared extension configuration, loaded once at
// startup and immutable afterwards. It implements sla.ExtensionResolver.
type Extensions struct {
	byName map[string]*sla.SharedExtension
	order  []string
}

// LoadExtensions reads and parses the shared extensions file.
func LoadExtensions(path string) (*Extensions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading extensions file: %w", err)
	}
	return ParseExtensions(raw)
}

// ParseExtensions parses a shared extensions document.
func ParseExtensions(raw []byte) (*Extensions, error) {
	var doc extensionsFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing extensions file: %w", err)
	}

	exts := &Extensions{byName: make(map[string]*sla.SharedExtension)}
	for _, entry := range doc.SharedExtensions {
		for name, e := range entry {
			if _, dup := exts.byName[name]; dup {
				return nil, fmt.Errorf("duplicate shared extension %q", name)
			}
			exts.byName[name] = &sla.SharedExtension{
				Name:     name,
				Stations: e.Stations,
				Trunks:   e.Trunks,
			}
			exts.order = append(exts.order, name)
		}
	}

	return exts, nil
}

// Resolve returns the shared extension for name. An unknown name, or one
// configured without stations or without trunks, fails with
// *sla.InvalidExtensionError.
func (e *Extensions) Resolve(name string) (*sla.SharedExtension, error) {
	ext, ok := e.byName[name]
	if !ok {
		return nil, &sla.InvalidExtensionError{Name: name, Reason: "not configured"}
	}
	if len(ext.Stations) == 0 {
		return nil, &sla.InvalidExtensionError{Name: name, Reason: "no stations configured"}
	}
	if len(ext.Trunks) == 0 {
		return nil, &sla.InvalidExtensionError{Name: name, Reason: "no trunks configured"}
	}
	return ext, nil
}

// Names returns all configured extension names in file order.
func (e *Extensions) Names() []string {
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// All returns every configured shared extension in file order.
func (e *Extensions) All() []*sla.SharedExtension {
	out := make([]*sla.SharedExtension, 0, len(e.order))
	for _, name := range e.order {
		out = append(out, e.byName[name])
	}
	return out
}
