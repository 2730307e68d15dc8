package codec

import gojson "github.com/goccy/go-json"

// JSON encodes arbitrary values with github.com/goccy/go-json.
//
// Time, complex numbers, funcs and channels are not supported.
type JSON[T any] struct{}

func (JSON[T]) Append(dst []byte, v T) ([]byte, error) {
	b, err := gojson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(dst, b...), nil
}

func (JSON[T]) Decode(b []byte) (T, error) {
	var v T
	err := gojson.Unmarshal(b, &v)
	return v, err
}

func (JSON[T]) Name() string { return "go-json" }
