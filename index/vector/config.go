package vector

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/hupe1980/diskindex/diskmap"
)

// Defaults.
const (
	DefaultDimension            = 512
	DefaultTables               = 12
	DefaultBits                 = 16
	MaxBits                     = 20
	DefaultSeed          uint64 = 0x5EED_1DC0_FFEE_0001
	DefaultMinScore             = 0.18
	DefaultMinTokenLength       = 2
	DefaultNGramMin             = 3
	DefaultNGramMax             = 4
	DefaultShortTextThreshold   = 32
	DefaultMinQueryTokens       = 1
	DefaultLimit                = 10
	DefaultMaxCandidates        = 512
	DefaultVectorCacheSize      = 4096

	// maxProbeBits bounds the bits flipped by multi-probe.
	maxProbeBits = 16
)

// Config holds the embedding and LSH parameters.
type Config struct {
	// Dimension is the embedding width.
	Dimension int `yaml:"dimension" validate:"min=1,max=65536"`
	// Tables is the number of LSH tables.
	Tables int `yaml:"tables" validate:"min=1,max=64"`
	// Bits is the number of hyperplanes (signature bits) per table.
	Bits int `yaml:"bits" validate:"min=1,max=20"`
	// Seed derives every hyperplane.
	Seed uint64 `yaml:"seed"`

	// MinTokenLength drops shorter tokens.
	MinTokenLength int `yaml:"minTokenLength" validate:"min=1"`
	// NGramMin and NGramMax bound character n-gram lengths. NGramMax 0
	// disables n-grams.
	NGramMin int `yaml:"ngramMin" validate:"min=1"`
	NGramMax int `yaml:"ngramMax" validate:"min=0"`
	// ShortTextThreshold is the text length (in runes) up to which no
	// n-grams are added.
	ShortTextThreshold int `yaml:"shortTextThreshold" validate:"min=0"`

	// MinQueryTokens rejects text queries with fewer tokens.
	MinQueryTokens int `yaml:"minQueryTokens" validate:"min=0"`
	// MinScore is the lowest cosine score MatchAll returns.
	MinScore float32 `yaml:"minScore" validate:"min=-1,max=1"`
	// DefaultLimit and DefaultMaxCandidates apply when MatchAll gets 0.
	DefaultLimit         int `yaml:"defaultLimit" validate:"min=1"`
	DefaultMaxCandidates int `yaml:"defaultMaxCandidates" validate:"min=1"`

	// VectorCacheSize bounds the decoded-vector cache. 0 disables it.
	VectorCacheSize int `yaml:"vectorCacheSize" validate:"min=0"`

	// Maps selects the DiskMap variant of the per-record maps.
	Maps diskmap.Config `yaml:"maps"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Dimension:            DefaultDimension,
		Tables:               DefaultTables,
		Bits:                 DefaultBits,
		Seed:                 DefaultSeed,
		MinTokenLength:       DefaultMinTokenLength,
		NGramMin:             DefaultNGramMin,
		NGramMax:             DefaultNGramMax,
		ShortTextThreshold:   DefaultShortTextThreshold,
		MinQueryTokens:       DefaultMinQueryTokens,
		MinScore:             DefaultMinScore,
		DefaultLimit:         DefaultLimit,
		DefaultMaxCandidates: DefaultMaxCandidates,
		VectorCacheSize:      DefaultVectorCacheSize,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks c.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("vector: invalid config: %w", err)
	}
	if c.NGramMax > 0 && c.NGramMax < c.NGramMin {
		return fmt.Errorf("vector: invalid config: ngramMax %d < ngramMin %d", c.NGramMax, c.NGramMin)
	}
	return nil
}
