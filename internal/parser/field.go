package parser

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
)

// Field is a named extraction chain with a typed default.
type Field interface {
	Name() string
	// Required fields are structural anchors; a page without them is treated
	// as a layout the extractor does not understand.
	Required() bool
	Default() any
	// Apply runs the chain against root. matched is false when no strategy
	// matched, in which case value is the default. A panicking accessor is
	// recovered and reported through err, again with the default value.
	Apply(root *goquery.Selection) (value any, matched bool, err error)
}

type field[T any] struct {
	name     string
	chain    Chain[T]
	def      func() T
	fix      func(T) T
	required bool
}

func (f *field[T]) Name() string   { return f.name }
func (f *field[T]) Required() bool { return f.required }
func (f *field[T]) Default() any   { return f.def() }

func (f *field[T]) Apply(root *goquery.Selection) (value any, matched bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			value, matched, err = f.def(), false, fmt.Errorf("field %s: %v", f.name, r)
		}
	}()

	v, ok := f.chain.TryExtract(root)
	if !ok {
		return f.def(), false, nil
	}
	if f.fix != nil {
		v = f.fix(v)
	}
	return v, true, nil
}

// TextField declares a scalar string field defaulting to "".
func TextField(name string, strategies ...Strategy[string]) Field {
	return &field[string]{
		name:  name,
		chain: strategies,
		def:   func() string { return "" },
	}
}

// ListField declares an ordered string sequence defaulting to an empty slice.
func ListField(name string, strategies ...Strategy[[]string]) Field {
	return &field[[]string]{
		name:  name,
		chain: strategies,
		def:   func() []string { return []string{} },
		fix: func(v []string) []string {
			if v == nil {
				return []string{}
			}
			return v
		},
	}
}

// MapField declares a key/value mapping defaulting to an empty map.
func MapField(name string, strategies ...Strategy[map[string]string]) Field {
	return &field[map[string]string]{
		name:  name,
		chain: strategies,
		def:   func() map[string]string { return map[string]string{} },
		fix: func(v map[string]string) map[string]string {
			if v == nil {
				return map[string]string{}
			}
			return v
		},
	}
}

type requiredField struct {
	Field
}

func (requiredField) Required() bool { return true }

// Require marks f as a structural anchor.
func Require(f Field) Field {
	return requiredField{Field: f}
}
