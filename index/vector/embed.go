package vector

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hupe1980/diskindex/distance"
	"github.com/hupe1980/diskindex/internal/hash"
)

// ngramSalt separates n-gram features from whole-word features.
const ngramSalt uint64 = 0xA24BAED4963EE407

// Embedder turns values into unit vectors. It is stateless and safe for
// concurrent use.
type Embedder struct {
	cfg Config
}

// NewEmbedder returns an Embedder for cfg.
func NewEmbedder(cfg Config) *Embedder {
	return &Embedder{cfg: cfg}
}

// Dimension returns the embedding width.
func (e *Embedder) Dimension() int { return e.cfg.Dimension }

// Embed converts v into a unit vector. ok is false for values that cannot be
// embedded: nil, text without tokens, or an all-zero vector. Float and byte
// slices of the wrong width fail with *DimensionMismatchError.
func (e *Embedder) Embed(v any) (vec []float32, ok bool, err error) {
	switch x := v.(type) {
	case nil:
		return nil, false, nil
	case []float32:
		if err := e.checkWidth(len(x)); err != nil {
			return nil, false, err
		}
		vec, ok = distance.NormalizeL2Copy(x)
		return vec, ok, nil
	case []float64:
		if err := e.checkWidth(len(x)); err != nil {
			return nil, false, err
		}
		vec = make([]float32, len(x))
		for i, f := range x {
			vec[i] = float32(f)
		}
		return vec, distance.NormalizeL2InPlace(vec), nil
	case []byte:
		if err := e.checkWidth(len(x)); err != nil {
			return nil, false, err
		}
		vec = make([]float32, len(x))
		for i, b := range x {
			vec[i] = float32(int8(b)) //nolint:gosec // bytes are signed components
		}
		return vec, distance.NormalizeL2InPlace(vec), nil
	case []int8:
		if err := e.checkWidth(len(x)); err != nil {
			return nil, false, err
		}
		vec = make([]float32, len(x))
		for i, b := range x {
			vec[i] = float32(b)
		}
		return vec, distance.NormalizeL2InPlace(vec), nil
	default:
		vec, ok = e.EmbedText(Text(v))
		return vec, ok, nil
	}
}

func (e *Embedder) checkWidth(n int) error {
	if n != e.cfg.Dimension {
		return &DimensionMismatchError{Expected: e.cfg.Dimension, Actual: n}
	}
	return nil
}

// EmbedText hashes the tokens and n-grams of text into a unit vector.
func (e *Embedder) EmbedText(text string) ([]float32, bool) {
	tokens := e.Tokens(text)
	if len(tokens) == 0 {
		return nil, false
	}

	vec := make([]float32, e.cfg.Dimension)
	for _, tok := range tokens {
		e.add(vec, hash.Sum64String(tok))
	}
	if e.cfg.NGramMax > 0 && utf8.RuneCountInString(text) > e.cfg.ShortTextThreshold {
		for _, tok := range tokens {
			e.ngrams(vec, tok)
		}
	}
	return vec, distance.NormalizeL2InPlace(vec)
}

// add folds one feature hash into vec with a deterministic sign.
func (e *Embedder) add(vec []float32, h uint64) {
	mixed := hash.Mix64(h)
	bucket := mixed % uint64(len(vec)) //nolint:gosec // dimension is positive
	if hash.Mix64(h^hash.Golden)&1 == 0 {
		vec[bucket]++
	} else {
		vec[bucket]--
	}
}

func (e *Embedder) ngrams(vec []float32, tok string) {
	runes := []rune(tok)
	for n := e.cfg.NGramMin; n <= e.cfg.NGramMax; n++ {
		if n >= len(runes) {
			break
		}
		for i := 0; i+n <= len(runes); i++ {
			e.add(vec, hash.Sum64String(string(runes[i:i+n]))^ngramSalt)
		}
	}
}

// Tokens splits text on everything but letters and digits, lowercases it
// and drops tokens shorter than MinTokenLength runes.
func (e *Embedder) Tokens(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < e.cfg.MinTokenLength {
			continue
		}
		out = append(out, strings.ToLower(f))
	}
	return out
}

// Text renders a value the way text embedding sees it.
func Text(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(v)
	}
}

// isVector reports whether v is embedded directly rather than as text.
func isVector(v any) bool {
	switch v.(type) {
	case []float32, []float64, []byte, []int8:
		return true
	default:
		return false
	}
}
