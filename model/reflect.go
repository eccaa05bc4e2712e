package model

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/maskdetect/maskdetect/fs/checkpoint"
	"github.com/maskdetect/maskdetect/logutil"
	"github.com/maskdetect/maskdetect/ml"
)

var tensorType = reflect.TypeOf((*ml.Tensor)(nil)).Elem()

// Parameter names one tensor field of a model.
type Parameter struct {
	Name  string
	Shape []int
}

func (p Parameter) NumElements() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// Parameters lists the non-nil tensor fields reachable from v in field
// order. Names join the `tensor` tags along the path with dots; slice and
// array elements add their index.
func Parameters(v any) []Parameter {
	var params []Parameter
	walk(reflect.ValueOf(v), nil, func(name string, field reflect.Value) {
		params = append(params, Parameter{Name: name, Shape: field.Interface().(ml.Tensor).Shape()})
	})
	return params
}

// StateDict collects the tensor fields reachable from v, named as in
// Parameters.
func StateDict(v any) *checkpoint.StateDict {
	sd := checkpoint.NewStateDict()
	walk(reflect.ValueOf(v), nil, func(name string, field reflect.Value) {
		t := field.Interface().(ml.Tensor)
		sd.Add(&checkpoint.Tensor{Name: name, DType: t.DType(), Shape: t.Shape(), Data: t.Floats()})
	})
	return sd
}

// Bind replaces every tensor field reachable from v with the backend tensor
// of the same name, prefixed by prefix. Missing names and shape mismatches
// are errors. When strict is set, backend tensors under prefix that no field
// claims are errors too.
func Bind(b ml.Backend, v any, prefix string, strict bool) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return fmt.Errorf("model: cannot bind to %T", v)
	}

	var names []string
	if prefix != "" {
		names = strings.Split(prefix, ".")
	}

	var errs []error
	claimed := make(map[string]bool)
	walk(rv, names, func(name string, field reflect.Value) {
		claimed[name] = true

		want := field.Interface().(ml.Tensor)
		got := b.Get(name)
		switch {
		case got == nil:
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingTensor, name))
		case !slices.Equal(got.Shape(), want.Shape()):
			errs = append(errs, fmt.Errorf("%w: %s is %v, want %v", ErrShapeMismatch, name, got.Shape(), want.Shape()))
		default:
			logutil.Trace("found tensor", "name", name, "tensor", got)
			field.Set(reflect.ValueOf(got))
		}
	})

	if strict {
		for _, name := range b.Names() {
			if !claimed[name] && (prefix == "" || strings.HasPrefix(name, prefix+".")) {
				errs = append(errs, fmt.Errorf("%w: %s", ErrUnexpectedTensor, name))
			}
		}
	}

	return errors.Join(errs...)
}

// walk calls fn for every non-nil ml.Tensor reachable from v. Nil pointers
// and interfaces are skipped, so optional layers simply drop out.
func walk(v reflect.Value, names []string, fn func(string, reflect.Value)) {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return
		}

		if v.Type() == tensorType {
			fn(strings.Join(names, "."), v)
			return
		}

		walk(v.Elem(), names, fn)
	case reflect.Pointer:
		if !v.IsNil() {
			walk(v.Elem(), names, fn)
		}
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}

			tag := f.Tag.Get("tensor")
			if tag == "-" {
				continue
			}

			child := names
			if tag != "" {
				child = append(slices.Clip(names), tag)
			}

			walk(v.Field(i), child, fn)
		}
	case reflect.Slice, reflect.Array:
		for i := range v.Len() {
			walk(v.Index(i), append(slices.Clip(names), strconv.Itoa(i)), fn)
		}
	}
}
