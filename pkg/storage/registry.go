package storage

import (
	"encoding/gob"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// Registry resolves the type tags found in stored envelopes back to Go types.
// It is only consulted when a caller reads through an interface type such as
// any; concrete reads compare tags directly.
type Registry struct {
	mu    sync.RWMutex
	types map[string]reflect.Type
}

// DefaultRegistry is shared by every Storage created without WithRegistry.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]reflect.Type)}
}

// Register records the types of values in the default registry.
func Register(values ...any) {
	DefaultRegistry.Register(values...)
}

// Register records the dynamic types of values. Pointer values register their
// element type. The types are also registered with gob so they may travel
// inside interface-typed fields.
func (r *Registry) Register(values ...any) {
	for _, v := range values {
		if v == nil {
			continue
		}
		t := baseType(reflect.TypeOf(v))
		r.add(t)
		registerGob(t)
	}
}

// registerGob registers the zero value of t with gob. gob panics when a type
// was already registered under another name (for instance by the caller via
// gob.Register(&T{})); that registration is kept.
func registerGob(t reflect.Type) {
	defer func() { _ = recover() }()
	gob.Register(reflect.Zero(t).Interface())
}

func (r *Registry) add(t reflect.Type) {
	t = baseType(t)
	tag := typeTag(t)

	r.mu.RLock()
	_, ok := r.types[tag]
	r.mu.RUnlock()
	if ok {
		return
	}

	r.mu.Lock()
	r.types[tag] = t
	r.mu.Unlock()
}

// Lookup returns the type registered under tag.
func (r *Registry) Lookup(tag string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[tag]
	return t, ok
}

// baseType strips pointer indirections; gob flattens them on the wire.
func baseType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// typeTag names t unambiguously. Named types are written as import path plus
// name, at the top level and inside composite types alike, so two packages
// sharing a name never produce the same tag.
func typeTag(t reflect.Type) string {
	var b strings.Builder
	writeTag(&b, baseType(t))
	return b.String()
}

func writeTag(b *strings.Builder, t reflect.Type) {
	if t.Name() != "" {
		if t.PkgPath() != "" {
			b.WriteString(t.PkgPath())
			b.WriteByte('.')
		}
		b.WriteString(t.Name())
		return
	}

	switch t.Kind() {
	case reflect.Pointer:
		b.WriteByte('*')
		writeTag(b, t.Elem())
	case reflect.Slice:
		b.WriteString("[]")
		writeTag(b, t.Elem())
	case reflect.Array:
		b.WriteString("[" + strconv.Itoa(t.Len()) + "]")
		writeTag(b, t.Elem())
	case reflect.Map:
		b.WriteString("map[")
		writeTag(b, t.Key())
		b.WriteByte(']')
		writeTag(b, t.Elem())
	case reflect.Struct:
		b.WriteString("struct {")
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteByte(' ')
			b.WriteString(f.Name)
			b.WriteByte(' ')
			writeTag(b, f.Type)
			if f.Tag != "" {
				b.WriteString(" " + strconv.Quote(string(f.Tag)))
			}
		}
		if t.NumField() > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte('}')
	default:
		// interfaces, channels and funcs; gob only carries the first
		b.WriteString(t.String())
	}
}
