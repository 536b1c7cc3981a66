/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package atlas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// Dictionary maps label ids to region names.
type Dictionary map[int]string

// Keys returns the dictionary's label ids in ascending order.
func (d Dictionary) Keys() []int {
	keys := make([]int, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	return keys
}

// labelFile is the on-disk description shipped with each atlas. The labels
// field is either an array indexed by label id or an object keyed by it.
type labelFile struct {
	Name   string          `json:"name"`
	Labels json.RawMessage `json:"labels"`
}

// ReadDictionary decodes an atlas label description.
func ReadDictionary(r io.Reader) (string, Dictionary, error) {
	var lf labelFile
	if err := json.NewDecoder(r).Decode(&lf); err != nil {
		return "", nil, fmt.Errorf("decode label file: %w", err)
	}

	raw := bytes.TrimSpace(lf.Labels)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil, fmt.Errorf("label file has no labels")
	}

	dict := make(Dictionary)

	switch raw[0] {
	case '[':
		var names []*string
		if err := json.Unmarshal(raw, &names); err != nil {
			return "", nil, fmt.Errorf("decode label array: %w", err)
		}
		for id, name := range names {
			if name == nil || strings.TrimSpace(*name) == "" {
				continue
			}
			dict[id] = *name
		}
	case '{':
		var names map[string]string
		if err := json.Unmarshal(raw, &names); err != nil {
			return "", nil, fmt.Errorf("decode label object: %w", err)
		}
		for key, name := range names {
			id, err := strconv.Atoi(strings.TrimSpace(key))
			if err != nil {
				// Non-integer keys can never match a voxel label.
				continue
			}
			dict[id] = name
		}
	default:
		return "", nil, fmt.Errorf("labels must be an array or object")
	}

	return lf.Name, dict, nil
}
