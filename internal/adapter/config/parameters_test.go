package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/alunegov/hmi-emu/internal/adapter/config"
	"github.com/alunegov/hmi-emu/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadParametersMissingFile(t *testing.T) {
	specs, err := config.LoadParameters(filepath.Join(t.TempDir(), "specs.json"))
	if err != nil {
		t.Fatalf("LoadParameters() error = %v", err)
	}
	if len(specs) != 0 {
		t.Errorf("LoadParameters() = %v, want empty list", specs)
	}
}

func TestLoadParameters(t *testing.T) {
	want := []domain.ParameterSpec{
		{ID: 5, Name: "Pressure", Kind: domain.KindFloat},
		{ID: 1, Name: "Status", Kind: domain.KindBitfield},
	}

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json",
			file: "specs.json",
			content: `[
	{"id": 5, "name": "Pressure", "kind": 1},
	{"id": 1, "name": "Status", "kind": 0}
]`,
		},
		{
			name:    "json legacy type field",
			file:    "specs.json",
			content: `[{"id":5,"name":"Pressure","type_":1},{"id":1,"name":"Status","type_":0}]`,
		},
		{
			name: "yaml",
			file: "specs.yaml",
			content: `
- id: 5
  name: Pressure
  kind: 1
- id: 1
  name: Status
  kind: 0
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := config.LoadParameters(writeFile(t, tt.file, tt.content))
			if err != nil {
				t.Fatalf("LoadParameters() error = %v", err)
			}
			if !reflect.DeepEqual(specs, want) {
				t.Errorf("LoadParameters() = %+v, want %+v", specs, want)
			}
		})
	}
}

func TestLoadParametersMalformed(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", `[{"id": 1,`},
		{"not a list", `{"id": 1, "kind": 0}`},
		{"missing id", `[{"name": "x", "kind": 0}]`},
		{"zero id", `[{"id": 0, "kind": 0}]`},
		{"negative id", `[{"id": -3, "kind": 0}]`},
		{"id too large", `[{"id": 40000, "kind": 0}]`},
		{"missing kind", `[{"id": 1}]`},
		{"unknown kind", `[{"id": 1, "kind": 2}]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadParameters(writeFile(t, "specs.json", tt.content))
			if !errors.Is(err, domain.ErrSpecFileMalformed) {
				t.Errorf("LoadParameters() error = %v, want ErrSpecFileMalformed", err)
			}
		})
	}
}

func TestLoadParametersEmptyList(t *testing.T) {
	specs, err := config.LoadParameters(writeFile(t, "specs.json", `[]`))
	if err != nil {
		t.Fatalf("LoadParameters() error = %v", err)
	}
	if len(specs) != 0 {
		t.Errorf("LoadParameters() = %v, want empty", specs)
	}
}
