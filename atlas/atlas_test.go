/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package atlas

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestComputeValidRegions(t *testing.T) {
	tests := []struct {
		name     string
		dict     Dictionary
		want     []int
		fallback bool
		err      error
	}{
		{
			name: "intersection",
			dict: Dictionary{1: "a", 7: "b", 9: "missing from volume"},
			want: []int{1, 7},
		},
		{
			name: "volume labels not described are dropped",
			dict: Dictionary{200: "c"},
			want: []int{200},
		},
		{
			name:     "fallback to positive dictionary keys",
			dict:     Dictionary{0: "background", 3: "x", 5: "y"},
			want:     []int{3, 5},
			fallback: true,
		},
		{
			name: "nothing usable",
			dict: Dictionary{0: "background", -2: "negative"},
			err:  ErrNoRegions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fallback, err := ComputeValidRegions(sampleGrid(), tt.dict)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("err = %v, want %v", err, tt.err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ComputeValidRegions: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("regions = %v, want %v", got, tt.want)
			}
			if fallback != tt.fallback {
				t.Fatalf("fallback = %v, want %v", fallback, tt.fallback)
			}
			for _, id := range got {
				if _, ok := tt.dict[id]; !ok {
					t.Fatalf("region %d is not in the dictionary", id)
				}
			}
		})
	}
}

func TestReadDictionary(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Dictionary
		wantErr bool
	}{
		{
			name: "array",
			in:   `{"name":"AAL","labels":["", "Precentral_L", null, "Frontal_Sup_L"]}`,
			want: Dictionary{1: "Precentral_L", 3: "Frontal_Sup_L"},
		},
		{
			name: "object",
			in:   `{"labels":{"1":"Thalamus","12":"Putamen","x":"ignored"}}`,
			want: Dictionary{1: "Thalamus", 12: "Putamen"},
		},
		{name: "missing labels", in: `{"name":"x"}`, wantErr: true},
		{name: "scalar labels", in: `{"labels":3}`, wantErr: true},
		{name: "not json", in: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, got, err := ReadDictionary(strings.NewReader(tt.in))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ReadDictionary succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ReadDictionary: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("dictionary = %v, want %v", got, tt.want)
			}
		})
	}
}

func writeAtlas(t *testing.T, dir, id, labels string) {
	t.Helper()

	raw := encodeNIfTI(t, sampleGrid(), binary.LittleEndian, dtInt16, true)
	if err := os.WriteFile(filepath.Join(dir, id+".nii.gz"), raw, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".json"), []byte(labels), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeAtlas(t, dir, "aal", `{"name":"AAL","labels":{"1":"one","7":"seven"}}`)
	writeAtlas(t, dir, "tissues", `{"labels":["bg","csf","gm"]}`)

	atlases, err := LoadDir(dir, nil)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(atlases) != 2 {
		t.Fatalf("loaded %d atlases, want 2", len(atlases))
	}

	aal := atlases[0]
	if aal.ID != "aal" || aal.Name != "AAL" {
		t.Fatalf("first atlas = %s/%s, want aal/AAL", aal.ID, aal.Name)
	}
	if !reflect.DeepEqual(aal.Regions, []int{1, 7}) || aal.Fallback {
		t.Fatalf("aal regions = %v fallback=%v", aal.Regions, aal.Fallback)
	}

	tissues := atlases[1]
	if tissues.Name != "tissues" {
		t.Fatalf("name defaults to id, got %q", tissues.Name)
	}
	if !reflect.DeepEqual(tissues.Regions, []int{1}) {
		t.Fatalf("tissues regions = %v, want [1]", tissues.Regions)
	}

	reg, err := NewRegistry(atlases...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if !reflect.DeepEqual(reg.IDs(), []string{"aal", "tissues"}) {
		t.Fatalf("ids = %v", reg.IDs())
	}
	if got := reg.ValidRegions("aal"); !reflect.DeepEqual(got, []int{1, 7}) {
		t.Fatalf("ValidRegions(aal) = %v", got)
	}
	if got := reg.ValidRegions("missing"); got != nil {
		t.Fatalf("ValidRegions(missing) = %v, want nil", got)
	}
}

func TestLoadDirFailsFatally(t *testing.T) {
	dir := t.TempDir()
	writeAtlas(t, dir, "aal", `{"labels":{"1":"one"}}`)

	if _, err := LoadDir(dir, []string{"aal", "glasser"}); err == nil {
		t.Fatalf("LoadDir with a missing atlas succeeded")
	}

	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"labels":{"1":"x"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.nii"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadDir(dir, nil); err == nil {
		t.Fatalf("LoadDir with a corrupt volume succeeded")
	}

	if _, err := LoadDir(t.TempDir(), nil); err == nil {
		t.Fatalf("LoadDir on an empty dir succeeded")
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	a, err := New("aal", "", sampleGrid(), Dictionary{1: "one"})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewRegistry(a, a); err == nil {
		t.Fatalf("NewRegistry accepted a duplicate atlas")
	}
	if _, err := NewRegistry(&Atlas{ID: "empty"}); !errors.Is(err, ErrNoRegions) {
		t.Fatalf("err = %v, want ErrNoRegions", err)
	}
}
