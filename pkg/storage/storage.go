package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/pfrederiksen/objstore/internal/logger"
)

// MarkerFileName is the empty file whose presence means the first start is done.
const MarkerFileName = "notFirstStart"

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Storage reads and writes objects below a fixed root directory.
type Storage struct {
	root     string
	registry *Registry
}

// Option configures a Storage.
type Option func(*options)

type options struct {
	home     string
	registry *Registry
}

// WithHomeDir resolves the root below dir instead of the user's home directory.
func WithHomeDir(dir string) Option {
	return func(o *options) { o.home = dir }
}

// WithRegistry uses r instead of DefaultRegistry to resolve type tags.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// New returns a Storage rooted at <home>/<directoryName>, with surrounding
// whitespace trimmed from directoryName. The directory is not created until
// something is written to it.
func New(directoryName string, opts ...Option) (*Storage, error) {
	if directoryName == "" {
		return nil, errorf("new", "", ErrNullArgument, "directory name is required")
	}
	name := strings.TrimSpace(directoryName)
	if name == "" {
		return nil, errorf("new", "", ErrInvalidArgument, "directory name can not be blank")
	}

	o := options{registry: DefaultRegistry}
	for _, opt := range opts {
		opt(&o)
	}

	home := o.home
	if home == "" {
		var err error
		home, err = os.UserHomeDir()
		if err != nil {
			return nil, newError("new", "", ErrIO, err)
		}
	}
	if o.registry == nil {
		o.registry = DefaultRegistry
	}

	root := filepath.Join(home, name)
	if !within(filepath.Clean(home), root) {
		return nil, errorf("new", root, ErrInvalidArgument, "directory name %q resolves outside %s", name, home)
	}

	return &Storage{
		root:     root,
		registry: o.registry,
	}, nil
}

// within reports whether path lies strictly below dir.
func within(dir, path string) bool {
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return len(path) > len(prefix) && strings.HasPrefix(path, prefix)
}

// Path returns the storage root.
func (s *Storage) Path() string {
	return s.root
}

func (s *Storage) markerPath() string {
	return filepath.Join(s.root, MarkerFileName)
}

// IsFirstStart reports whether the marker file is absent. Errors other than
// absence also count as absent.
func (s *Storage) IsFirstStart() bool {
	_, err := os.Stat(s.markerPath())
	return err != nil
}

// FirstStartFinished creates the marker file. It is a no-op when the marker
// already exists.
func (s *Storage) FirstStartFinished() error {
	path := s.markerPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(s.root, dirPerm); err != nil {
		return newError("first start finished", s.root, ErrIO, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return newError("first start finished", path, ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return newError("first start finished", path, ErrIO, err)
	}

	logger.Debug("first start marker created", logger.Fields{"path": path})
	return nil
}

// ResetFirstStart removes the marker file and reports whether it did.
func (s *Storage) ResetFirstStart() bool {
	path := s.markerPath()
	if _, err := os.Stat(path); err != nil {
		return false
	}
	if err := os.Remove(path); err != nil {
		logger.Warn("could not remove first start marker", logger.Fields{"path": path}, err)
		return false
	}
	return true
}

// resolve joins name onto the root and rejects names that escape it.
func (s *Storage) resolve(op, name string) (string, error) {
	if name == "" {
		return "", errorf(op, "", ErrNullArgument, "file name is required")
	}
	path := filepath.Join(s.root, name)
	if !within(s.root, path) {
		return "", errorf(op, name, ErrInvalidArgument, "file name resolves outside %s", s.root)
	}
	return path, nil
}

// Write stores v under fileName, replacing any previous content. Parent
// directories below the root are created as needed.
func (s *Storage) Write(fileName string, v any) error {
	path, err := s.resolve("write", fileName)
	if err != nil {
		return err
	}
	if v == nil {
		return errorf("write", path, ErrInvalidArgument, "nil object")
	}

	data, tag, err := encode(v)
	if err != nil {
		return newError("write", path, ErrEncode, err)
	}
	s.registry.add(reflect.TypeOf(v))

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return newError("write", path, ErrIO, err)
	}
	if err := writeFile(path, data); err != nil {
		return newError("write", path, ErrIO, err)
	}

	logger.Debug("object written", logger.Fields{
		"path":  path,
		"type":  tag,
		"bytes": len(data),
	})
	return nil
}

func writeFile(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = f.Write(data)
	return err
}

// open opens the regular file behind fileName. Missing files and directories
// are ErrNotFound.
func (s *Storage) open(op, fileName string) (*os.File, string, error) {
	path, err := s.resolve(op, fileName)
	if err != nil {
		return nil, "", err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, path, newError(op, path, ErrNotFound, err)
		}
		return nil, path, newError(op, path, ErrIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, path, newError(op, path, ErrIO, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, path, errorf(op, path, ErrNotFound, "is a directory")
	}
	return f, path, nil
}

// ReadAs decodes the object stored under fileName and checks it against typ.
// The result's dynamic type is typ itself when typ is concrete; when typ is an
// interface the stored type is resolved through the registry and must
// implement typ.
func (s *Storage) ReadAs(fileName string, typ reflect.Type) (any, error) {
	if typ == nil {
		return nil, errorf("read", fileName, ErrInvalidArgument, "nil type")
	}
	f, path, err := s.open("read", fileName)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d := newDecoder(f)
	tag, err := d.readHeader()
	if err != nil {
		return nil, newError("read", path, d.kind(), err)
	}

	var out reflect.Value
	if typ.Kind() == reflect.Interface {
		out, err = s.decodeInterface(d, tag, typ)
	} else {
		out, err = decodeConcrete(d, tag, typ)
	}
	if err != nil {
		var se *Error
		if errors.As(err, &se) {
			se.Op, se.Path = "read", path
			return nil, se
		}
		return nil, newError("read", path, d.kind(), err)
	}

	logger.Debug("object read", logger.Fields{"path": path, "type": tag})
	return out.Interface(), nil
}

func decodeConcrete(d *decoder, tag string, typ reflect.Type) (reflect.Value, error) {
	base := baseType(typ)
	if want := typeTag(base); want != tag {
		return reflect.Value{}, errorf("", "", ErrTypeMismatch, "stored %s, requested %s", tag, want)
	}
	ptr, err := d.readPayload(base)
	if err != nil {
		return reflect.Value{}, err
	}
	return shape(ptr, typ), nil
}

func (s *Storage) decodeInterface(d *decoder, tag string, typ reflect.Type) (reflect.Value, error) {
	stored, ok := s.registry.Lookup(tag)
	if !ok {
		return reflect.Value{}, errorf("", "", ErrDecode, "unresolvable type %s", tag)
	}
	ptr, err := d.readPayload(stored)
	if err != nil {
		return reflect.Value{}, err
	}
	switch {
	case stored.AssignableTo(typ):
		v := reflect.New(typ).Elem()
		v.Set(ptr.Elem())
		return v, nil
	case ptr.Type().AssignableTo(typ):
		v := reflect.New(typ).Elem()
		v.Set(ptr)
		return v, nil
	}
	return reflect.Value{}, errorf("", "", ErrTypeMismatch, "stored %s does not implement %s", tag, typ)
}

// Read decodes the object stored under fileName as a T.
//
//	house, err := storage.Read[House](s, "house")
func Read[T any](s *Storage, fileName string) (T, error) {
	var zero T
	v, err := s.ReadAs(fileName, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, errorf("read", fileName, ErrTypeMismatch, "decoded %T, requested %s", v, reflect.TypeOf((*T)(nil)).Elem())
	}
	return t, nil
}
