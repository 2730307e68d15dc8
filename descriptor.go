package diskindex

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/diskindex/diskmap"
	"github.com/hupe1980/diskindex/index/vector"
)

// Kind selects the index implementation.
type Kind string

const (
	// KindExact is an exact-match and range index.
	KindExact Kind = "exact"
	// KindVector is an approximate semantic index.
	KindVector Kind = "vector"
)

// Key types of exact indexes.
const (
	TypeInt64   = "int64"
	TypeUint64  = "uint64"
	TypeFloat64 = "float64"
	TypeString  = "string"
	TypeBytes   = "bytes"
)

// IndexDescriptor describes one index of an entity.
type IndexDescriptor struct {
	// Entity names the indexed record type. Informational.
	Entity string `yaml:"entity"`
	// Name is the indexed field.
	Name string `yaml:"name" validate:"required"`
	// Type is the key type of an exact index. Defaults to string.
	Type string `yaml:"type" validate:"omitempty,oneof=int64 uint64 float64 string bytes"`
	// Kind defaults to exact.
	Kind Kind `yaml:"kind" validate:"omitempty,oneof=exact vector"`

	EmbeddingDimensions int      `yaml:"embeddingDimensions" validate:"omitempty,min=1,max=65536"`
	HashTableCount      int      `yaml:"hashTableCount" validate:"omitempty,min=1,max=64"`
	MaxBitsPerTable     int      `yaml:"maxBitsPerTable" validate:"omitempty,min=1,max=20"`
	MinimumScore        *float32 `yaml:"minimumScore" validate:"omitempty,min=0,max=1"`

	// LoadFactor and ExpectedKeys select the DiskMap variant of the
	// per-record maps (see diskmap.Config).
	LoadFactor   int   `yaml:"loadFactor" validate:"min=0,max=18"`
	ExpectedKeys int64 `yaml:"expectedKeys" validate:"min=0"`
}

var descriptorValidate = validator.New(validator.WithRequiredStructEnabled())

// WithDefaults returns d with unset fields filled in.
func (d IndexDescriptor) WithDefaults() IndexDescriptor {
	if d.Kind == "" {
		d.Kind = KindExact
	}
	if d.Type == "" {
		d.Type = TypeString
	}
	if d.EmbeddingDimensions == 0 {
		d.EmbeddingDimensions = vector.DefaultDimension
	}
	if d.HashTableCount == 0 {
		d.HashTableCount = vector.DefaultTables
	}
	if d.MaxBitsPerTable == 0 {
		d.MaxBitsPerTable = vector.DefaultBits
	}
	if d.MinimumScore == nil {
		score := float32(vector.DefaultMinScore)
		d.MinimumScore = &score
	}
	return d
}

// Validate checks d.
func (d IndexDescriptor) Validate() error {
	if err := descriptorValidate.Struct(d); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidDescriptor, d.Name, err)
	}
	return nil
}

// MapConfig returns the DiskMap configuration of the per-record maps.
func (d IndexDescriptor) MapConfig() diskmap.Config {
	return diskmap.Config{LoadFactor: d.LoadFactor, ExpectedKeys: d.ExpectedKeys}
}

// VectorConfig returns the vector index configuration of d.
func (d IndexDescriptor) VectorConfig() vector.Config {
	d = d.WithDefaults()
	cfg := vector.DefaultConfig()
	cfg.Dimension = d.EmbeddingDimensions
	cfg.Tables = d.HashTableCount
	cfg.Bits = d.MaxBitsPerTable
	cfg.MinScore = *d.MinimumScore
	cfg.Maps = d.MapConfig()
	return cfg
}

type descriptorFile struct {
	Indexes []IndexDescriptor `yaml:"indexes"`
}

// LoadDescriptors reads descriptors from YAML of the form
//
//	indexes:
//	  - entity: Article
//	    name: title
//	    kind: vector
//	    embeddingDimensions: 256
//
// Each descriptor is defaulted and validated.
func LoadDescriptors(r io.Reader) ([]IndexDescriptor, error) {
	var f descriptorFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode descriptors: %w", err)
	}

	out := make([]IndexDescriptor, 0, len(f.Indexes))
	for _, d := range f.Indexes {
		d = d.WithDefaults()
		if err := d.Validate(); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// LoadDescriptorFile reads descriptors from the YAML file at path.
func LoadDescriptorFile(path string) ([]IndexDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadDescriptors(f)
}
