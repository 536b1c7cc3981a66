/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package atlas indexes labeled anatomical volumes and the regions that can
// be used as guessing targets. Everything here is built once at startup and
// is read-only afterwards.
package atlas

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrNoRegions = errors.New("no valid regions")

// Atlas is a loaded atlas volume with its label dictionary.
type Atlas struct {
	ID      string
	Name    string
	Labels  Dictionary
	Volume  Volume
	Regions []int

	// Fallback is set when no dictionary label was found in the volume and
	// Regions was taken from the dictionary keys instead.
	Fallback bool
}

// ComputeValidRegions intersects the non-zero labels present in vol with
// the ids defined in dict. When the intersection is empty it falls back to
// every positive id of dict.
func ComputeValidRegions(vol Volume, dict Dictionary) ([]int, bool, error) {
	nx, ny, nz := vol.Dims()

	present := make(map[int]struct{})

	if g, ok := vol.(*Grid); ok {
		for _, v := range g.Data {
			if v > 0 {
				present[int(v)] = struct{}{}
			}
		}
	} else {
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					if v := vol.Label(x, y, z); v > 0 {
						present[v] = struct{}{}
					}
				}
			}
		}
	}

	regions := make([]int, 0, len(present))
	for id := range present {
		if _, ok := dict[id]; ok {
			regions = append(regions, id)
		}
	}

	if len(regions) > 0 {
		sort.Ints(regions)

		return regions, false, nil
	}

	for _, id := range dict.Keys() {
		if id > 0 {
			regions = append(regions, id)
		}
	}

	if len(regions) == 0 {
		return nil, false, ErrNoRegions
	}

	return regions, true, nil
}

// New builds an atlas from an already decoded volume and dictionary.
func New(id, name string, vol Volume, dict Dictionary) (*Atlas, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("atlas id is required")
	}

	regions, fallback, err := ComputeValidRegions(vol, dict)
	if err != nil {
		return nil, fmt.Errorf("atlas %s: %w", id, err)
	}

	if name == "" {
		name = id
	}

	return &Atlas{
		ID:       id,
		Name:     name,
		Labels:   dict,
		Volume:   vol,
		Regions:  regions,
		Fallback: fallback,
	}, nil
}

// Load reads an atlas from its volume and label files.
func Load(id, volumePath, labelPath string) (*Atlas, error) {
	lf, err := os.Open(labelPath)
	if err != nil {
		return nil, fmt.Errorf("atlas %s: %w", id, err)
	}
	defer lf.Close()

	name, dict, err := ReadDictionary(lf)
	if err != nil {
		return nil, fmt.Errorf("atlas %s: %s: %w", id, labelPath, err)
	}

	vf, err := os.Open(volumePath)
	if err != nil {
		return nil, fmt.Errorf("atlas %s: %w", id, err)
	}
	defer vf.Close()

	grid, err := ReadNIfTI(vf)
	if err != nil {
		return nil, fmt.Errorf("atlas %s: %s: %w", id, volumePath, err)
	}

	return New(id, name, grid, dict)
}

// LoadDir loads every atlas found in dir. An atlas is a <id>.json label file
// next to a <id>.nii.gz or <id>.nii volume. When ids is non-empty only those
// atlases are loaded, and each of them must exist.
func LoadDir(dir string, ids []string) ([]*Atlas, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read atlas dir: %w", err)
	}

	found := make(map[string]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		id := strings.TrimSuffix(e.Name(), ".json")
		for _, ext := range []string{".nii.gz", ".nii"} {
			p := filepath.Join(dir, id+ext)
			if _, err := os.Stat(p); err == nil {
				found[id] = p
				break
			}
		}
	}

	if len(ids) == 0 {
		for id := range found {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	if len(ids) == 0 {
		return nil, fmt.Errorf("no atlases found in %s", dir)
	}

	atlases := make([]*Atlas, 0, len(ids))
	for _, id := range ids {
		volumePath, ok := found[id]
		if !ok {
			return nil, fmt.Errorf("atlas %s: no volume or label file in %s", id, dir)
		}

		a, err := Load(id, volumePath, filepath.Join(dir, id+".json"))
		if err != nil {
			return nil, err
		}

		atlases = append(atlases, a)
	}

	return atlases, nil
}
