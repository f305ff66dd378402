package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/alunegov/hmi-emu/internal/domain"
	"gopkg.in/yaml.v3"
)

// ParameterConfig represents one entry of the parameter specification file.
// "type_" is accepted as an alias of "kind" for older files.
type ParameterConfig struct {
	ID         *int   `json:"id" yaml:"id"`
	Name       string `json:"name" yaml:"name"`
	Kind       *int   `json:"kind" yaml:"kind"`
	LegacyType *int   `json:"type_" yaml:"type_"`
}

// LoadParameters loads the ordered parameter specification from path. JSON
// is used for .json files, YAML otherwise. A missing file yields an empty
// list; any other problem is an error wrapping domain.ErrSpecFileMalformed.
func LoadParameters(path string) ([]domain.ParameterSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []domain.ParameterSpec{}, nil
		}
		return nil, fmt.Errorf("%w: failed to read parameters file: %v", domain.ErrSpecFileMalformed, err)
	}

	var entries []ParameterConfig
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(data, &entries)
	} else {
		err = yaml.Unmarshal(data, &entries)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse parameters file: %v", domain.ErrSpecFileMalformed, err)
	}

	specs := make([]domain.ParameterSpec, 0, len(entries))
	for idx, pc := range entries {
		spec, err := convertParameterConfig(pc)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", domain.ErrSpecFileMalformed, idx, err)
		}
		specs = append(specs, spec)
	}

	return specs, nil
}

// convertParameterConfig converts a file entry to a domain parameter.
func convertParameterConfig(pc ParameterConfig) (domain.ParameterSpec, error) {
	if pc.ID == nil {
		return domain.ParameterSpec{}, fmt.Errorf("id is required")
	}
	if *pc.ID < 0 {
		return domain.ParameterSpec{}, fmt.Errorf("%w: %d", domain.ErrInvalidParameterID, *pc.ID)
	}
	if err := domain.ValidateParameterID(uint32(*pc.ID)); err != nil {
		return domain.ParameterSpec{}, err
	}

	kind := pc.Kind
	if kind == nil {
		kind = pc.LegacyType
	}
	if kind == nil {
		return domain.ParameterSpec{}, fmt.Errorf("parameter %d: kind is required", *pc.ID)
	}
	k := domain.Kind(*kind)
	if !k.Valid() {
		return domain.ParameterSpec{}, fmt.Errorf("parameter %d: %w: %d", *pc.ID, domain.ErrInvalidKind, *kind)
	}

	return domain.ParameterSpec{
		ID:   uint16(*pc.ID),
		Name: pc.Name,
		Kind: k,
	}, nil
}
