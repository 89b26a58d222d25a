package provider

import (
	"maps"
	"slices"

	"github.com/contextkit/contextd/pkg/value"
)

// NewStatic creates a service whose keys hold fixed values. Absent values
// make the key known but undeterminable.
func NewStatic(config Config, values map[string]value.Value) (*Service, error) {
	keys := slices.Sorted(maps.Keys(values))
	s, err := NewServiceWithConfig(config, keys...)
	if err != nil {
		return nil, err
	}
	for k, v := range values {
		s.properties[k].value = v
	}
	return s, nil
}
