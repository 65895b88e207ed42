package storage

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"reflect"
)

const (
	magic         = "GOBJ"
	formatVersion = 1
)

// header precedes every payload and names the payload's type.
type header struct {
	Type string
}

// encode wraps v in an envelope: magic, version, gob header, gob payload.
func encode(v any) ([]byte, string, error) {
	t := reflect.TypeOf(v)
	tag := typeTag(t)

	// gob panics on nil pointers instead of returning an error
	for rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer; rv = rv.Elem() {
		if rv.IsNil() {
			return nil, "", fmt.Errorf("encoding %s: nil pointer", tag)
		}
	}

	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.WriteByte(formatVersion)

	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(header{Type: tag}); err != nil {
		return nil, "", fmt.Errorf("encoding header: %w", err)
	}
	if err := enc.Encode(v); err != nil {
		return nil, "", fmt.Errorf("encoding %s: %w", tag, err)
	}
	return buf.Bytes(), tag, nil
}

// recordingReader remembers the first read error so decode failures caused by
// the file system can be told apart from corrupt streams.
type recordingReader struct {
	r   io.Reader
	err error
}

func (rr *recordingReader) Read(p []byte) (int, error) {
	n, err := rr.r.Read(p)
	if err != nil && err != io.EOF && rr.err == nil {
		rr.err = err
	}
	return n, err
}

// decoder reads one envelope from a stream.
type decoder struct {
	src *recordingReader
	br  *bufio.Reader
	dec *gob.Decoder
}

func newDecoder(r io.Reader) *decoder {
	src := &recordingReader{r: r}
	br := bufio.NewReader(src)
	return &decoder{src: src, br: br}
}

// kind classifies err as ErrIO when the underlying reader failed, ErrDecode
// otherwise.
func (d *decoder) kind() error {
	if d.src.err != nil {
		return ErrIO
	}
	return ErrDecode
}

// readHeader checks the magic and version and returns the payload's type tag.
func (d *decoder) readHeader() (string, error) {
	prefix := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(d.br, prefix); err != nil {
		if d.src.err != nil {
			return "", d.src.err
		}
		return "", errors.New("stream too short for envelope")
	}
	if string(prefix[:len(magic)]) != magic {
		return "", errors.New("not an object envelope")
	}
	if v := prefix[len(magic)]; v != formatVersion {
		return "", fmt.Errorf("unsupported envelope version %d", v)
	}

	d.dec = gob.NewDecoder(d.br)
	var h header
	if err := d.dec.Decode(&h); err != nil {
		return "", fmt.Errorf("decoding header: %w", err)
	}
	if h.Type == "" {
		return "", errors.New("envelope has empty type tag")
	}
	return h.Type, nil
}

// readPayload decodes the payload into a fresh value of type t and returns a
// pointer to it.
func (d *decoder) readPayload(t reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(t)
	if err := d.dec.DecodeValue(ptr); err != nil {
		return reflect.Value{}, fmt.Errorf("decoding %s: %w", typeTag(t), err)
	}
	return ptr, nil
}

// shape converts ptr, a *base value, to want, which is base, *base, **base, ...
func shape(ptr reflect.Value, want reflect.Type) reflect.Value {
	if want.Kind() != reflect.Pointer {
		return ptr.Elem()
	}
	v := ptr
	for v.Type() != want {
		outer := reflect.New(v.Type())
		outer.Elem().Set(v)
		v = outer
	}
	return v
}
