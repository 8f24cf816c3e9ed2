package settings

import (
	"context"
	"fmt"
	"sort"

	"github.com/scribadev/scriba/pkg/store"
)

// Service reads and writes runtime settings through the store. It keeps no
// cache: Get hits the database every time so concurrent updates from the
// control surface are visible to the very next operation.
type Service struct {
	store *store.Store
}

// NewService returns a settings service over the given store.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// Get returns the effective settings: defaults overlaid with every stored
// override.
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	overrides, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}

	settings := Defaults()
	if len(overrides) > 0 {
		if err := decodeInto(expandKeys(overrides), settings); err != nil {
			return nil, err
		}
	}
	return settings, nil
}

// Overrides returns only the raw stored key/value rows, without defaults.
func (s *Service) Overrides(ctx context.Context) (map[string]string, error) {
	return s.store.GetSettings(ctx)
}

// Update validates and persists a set of overrides. Keys must be recognized
// and the merged result must validate; nothing is written otherwise.
func (s *Service) Update(ctx context.Context, values map[string]string) (*Settings, error) {
	if len(values) == 0 {
		return s.Get(ctx)
	}

	recognized, err := Flatten(Defaults())
	if err != nil {
		return nil, err
	}
	var unknown []string
	for key := range values {
		if _, ok := recognized[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unrecognized settings: %v", unknown)
	}

	current, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(current)+len(values))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}

	settings := Defaults()
	if err := decodeInto(expandKeys(merged), settings); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.SetSettings(ctx, values); err != nil {
		return nil, err
	}
	return settings, nil
}
