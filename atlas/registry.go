/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package atlas

import (
	"fmt"
	"sort"
)

// Registry is the process-wide set of loaded atlases.
type Registry struct {
	atlases map[string]*Atlas
	ids     []string
}

func NewRegistry(atlases ...*Atlas) (*Registry, error) {
	r := &Registry{
		atlases: make(map[string]*Atlas, len(atlases)),
	}

	for _, a := range atlases {
		if a == nil {
			continue
		}
		if _, ok := r.atlases[a.ID]; ok {
			return nil, fmt.Errorf("duplicate atlas %q", a.ID)
		}
		if len(a.Regions) == 0 {
			return nil, fmt.Errorf("atlas %s: %w", a.ID, ErrNoRegions)
		}

		r.atlases[a.ID] = a
		r.ids = append(r.ids, a.ID)
	}

	sort.Strings(r.ids)

	return r, nil
}

func (r *Registry) Lookup(id string) (*Atlas, bool) {
	a, ok := r.atlases[id]

	return a, ok
}

// IDs returns the registered atlas ids in sorted order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// ValidRegions returns the guessing targets of an atlas, or nil if the atlas
// is unknown.
func (r *Registry) ValidRegions(id string) []int {
	a, ok := r.atlases[id]
	if !ok {
		return nil
	}

	return append([]int(nil), a.Regions...)
}

func (r *Registry) Len() int {
	return len(r.ids)
}
