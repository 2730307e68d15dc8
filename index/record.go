package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/hupe1980/diskindex/codec"
)

// RecordRef identifies a stored record. 0 means "no record".
type RecordRef uint64

// RecordStore is the collaborator that owns the indexed records.
type RecordStore interface {
	// Refs returns the references of every live record.
	Refs(ctx context.Context) ([]RecordRef, error)
	// Record returns the record stored under ref, or an error wrapping ErrNotFound.
	Record(ctx context.Context, ref RecordRef) (any, error)
}

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("index: record not found")
	// ErrInvalidRef is returned for the zero RecordRef.
	ErrInvalidRef = errors.New("index: invalid record reference")
	// ErrNoField is returned by Rebuild when no field was configured.
	ErrNoField = errors.New("index: no indexed field configured")
)

// FieldAccessError describes a failure to extract an index value from a record.
type FieldAccessError struct {
	Field string
	Type  string
	Err   error
}

func (e *FieldAccessError) Error() string {
	return fmt.Sprintf("index: field %q of %s: %v", e.Field, e.Type, e.Err)
}

func (e *FieldAccessError) Unwrap() error { return e.Err }

var (
	errNoSuchField    = errors.New("no such field")
	errNotConvertible = errors.New("value not convertible")
	errUnsupported    = errors.New("unsupported record type")
)

// Extract returns the value of field in record. Structs (or pointers to
// structs) match an exported field name, an `index` tag or a `json` tag;
// maps with string keys match a key. Nil pointers yield nil.
func Extract(record any, field string) (any, error) {
	v := reflect.ValueOf(record)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, nil
		}
		v = v.Elem()
	}

	typeName := fmt.Sprintf("%T", record)
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if !sf.IsExported() || !fieldMatches(sf, field) {
				continue
			}
			return indirect(v.Field(i)), nil
		}
		return nil, &FieldAccessError{Field: field, Type: typeName, Err: errNoSuchField}
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, &FieldAccessError{Field: field, Type: typeName, Err: errUnsupported}
		}
		mv := v.MapIndex(reflect.ValueOf(field).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil, &FieldAccessError{Field: field, Type: typeName, Err: errNoSuchField}
		}
		return indirect(mv), nil
	default:
		return nil, &FieldAccessError{Field: field, Type: typeName, Err: errUnsupported}
	}
}

// indirect unwraps pointers and interfaces. Nil yields nil.
func indirect(v reflect.Value) any {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	return v.Interface()
}

func fieldMatches(sf reflect.StructField, field string) bool {
	if sf.Name == field {
		return true
	}
	for _, tag := range []string{"index", "json"} {
		if name, _, _ := strings.Cut(sf.Tag.Get(tag), ","); name != "" && name == field {
			return true
		}
	}
	return false
}

// Coerce converts an extracted value to K. Numeric kinds convert to numeric
// K, strings and byte slices convert into each other; anything else must
// already be a K.
func Coerce[K any](v any, field string) (K, error) {
	var zero K
	if k, ok := v.(K); ok {
		return k, nil
	}

	target := reflect.TypeOf(zero)
	rv := reflect.ValueOf(v)
	if rv.IsValid() && target != nil && compatible(rv.Kind(), target.Kind()) && rv.Type().ConvertibleTo(target) {
		return rv.Convert(target).Interface().(K), nil //nolint:forcetypeassert // converted to target
	}
	return zero, &FieldAccessError{
		Field: field,
		Type:  fmt.Sprintf("%T", v),
		Err:   fmt.Errorf("%w to %v", errNotConvertible, target),
	}
}

func compatible(from, to reflect.Kind) bool {
	numeric := func(k reflect.Kind) bool {
		return (k >= reflect.Int && k <= reflect.Uint64) || k == reflect.Float32 || k == reflect.Float64
	}
	switch {
	case numeric(from) && numeric(to):
		return true
	case from == reflect.String && to == reflect.String:
		return true
	case from == reflect.String && to == reflect.Slice, from == reflect.Slice && to == reflect.String:
		return true
	case from == reflect.Slice && to == reflect.Slice:
		return true
	default:
		return false
	}
}

// refCodec encodes RecordRef like codec.Uint64.
type refCodec struct{}

func (refCodec) Append(dst []byte, v RecordRef) ([]byte, error) {
	return codec.Uint64{}.Append(dst, uint64(v))
}

func (refCodec) Decode(b []byte) (RecordRef, error) {
	v, err := codec.Uint64{}.Decode(b)
	return RecordRef(v), err
}

func (refCodec) Compare(a, b RecordRef) int { return cmp.Compare(a, b) }
func (refCodec) Name() string               { return "record-ref" }

// RefCodec returns the codec used for record references.
func RefCodec() codec.Ordered[RecordRef] { return refCodec{} }
