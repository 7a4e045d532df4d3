package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"

	"github.com/freeeve/reframed/internal/session"
)

// legacyLoader recognizes and loads one historical JSON layout.
type legacyLoader struct {
	version string
	layout  layout
	states  stateDecoder
}

// legacyLoaders is ordered oldest to newest.
var legacyLoaders = []legacyLoader{
	{version: "1.0", layout: layout10, states: decodeStates10},
	{version: "1.1", layout: layout11, states: decodeStates10},
	{version: "1.2", layout: layout12, states: decodeStates12},
	{version: "1.3", layout: layout13, states: decodeStates13},
	{version: "1.4", layout: layout14, states: decodeStates14},
}

func (l legacyLoader) detect(doc object) bool {
	return doc.version() == l.version && l.layout.matches(doc)
}

func (l legacyLoader) load(doc object) (*decoded, error) {
	return loadLayout(doc, l.layout, l.states)
}

// unwrapLegacy strips the compression a legacy writer may have applied and
// returns the JSON document bytes.
func unwrapLegacy(data []byte) ([]byte, error) {
	switch {
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer zr.Close()
		return io.ReadAll(zr)

	case isQCompress(data):
		if out, err := qUncompress(data); err == nil {
			return out, nil
		}
	}
	return data, nil
}

func qUncompress(data []byte) ([]byte, error) {
	want := binary.BigEndian.Uint32(data[:4])
	zr, err := zlib.NewReader(bytes.NewReader(data[4:]))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	if uint32(len(out)) != want {
		return nil, fmt.Errorf("inflated %d bytes, header says %d", len(out), want)
	}
	return out, nil
}

// isQCompress matches Qt's qCompress framing: a big-endian length followed by
// a zlib stream header.
func isQCompress(data []byte) bool {
	if len(data) < 6 {
		return false
	}
	cmf, flg := data[4], data[5]
	return cmf&0x0f == 8 && (uint16(cmf)<<8|uint16(flg))%31 == 0
}

// object is a JSON object with its members left undecoded so layouts can be
// told apart by the shape of their keys.
type object map[string]json.RawMessage

// Shapes of JSON values.
const (
	shapeObject = '{'
	shapeArray  = '['
	shapeString = '"'
	shapeNumber = '0'
	shapeNull   = 'n'
	shapeBool   = 'b'
	shapeNone   = 0
)

func shapeOf(raw json.RawMessage) byte {
	raw = bytes.TrimLeft(raw, " \t\r\n")
	if len(raw) == 0 {
		return shapeNone
	}
	switch c := raw[0]; {
	case c == '{', c == '[', c == '"', c == 'n':
		return c
	case c == 't', c == 'f':
		return shapeBool
	case c == '-', c >= '0' && c <= '9':
		return shapeNumber
	}
	return shapeNone
}

// is reports whether key exists with one of the given shapes.
func (o object) is(key string, shapes ...byte) bool {
	raw, ok := o[key]
	if !ok {
		return false
	}
	got := shapeOf(raw)
	for _, s := range shapes {
		if got == s {
			return true
		}
	}
	return false
}

// obj decodes key as a nested object. Missing or mistyped keys give nil.
func (o object) obj(key string) object {
	if !o.is(key, shapeObject) {
		return nil
	}
	var out object
	if err := json.Unmarshal(o[key], &out); err != nil {
		return nil
	}
	return out
}

// objs decodes key as an array of objects.
func (o object) objs(key string) []object {
	if !o.is(key, shapeArray) {
		return nil
	}
	var out []object
	if err := json.Unmarshal(o[key], &out); err != nil {
		return nil
	}
	return out
}

func (o object) str(key string) string {
	var s string
	_ = json.Unmarshal(o[key], &s)
	return s
}

func (o object) version() string {
	if !o.is("version", shapeString) {
		return ""
	}
	return o.str("version")
}

// decodeLegacy parses data as a legacy JSON document and runs the loader
// chain. It returns the version of the matching layout.
func decodeLegacy(data []byte) (*decoded, string, error) {
	doc, err := parseLegacy(data)
	if err != nil {
		return nil, "", err
	}
	for _, l := range legacyLoaders {
		if !l.detect(doc) {
			continue
		}
		d, err := l.load(doc)
		if err != nil {
			return nil, l.version, fmt.Errorf("%w: legacy %s: %v", ErrCorrupt, l.version, err)
		}
		return d, l.version, nil
	}
	return nil, "", fmt.Errorf("%w: no loader matches version %q", ErrUnrecognizedFormat, doc.version())
}

func parseLegacy(data []byte) (object, error) {
	raw, err := unwrapLegacy(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedFormat, err)
	}
	if shapeOf(raw) != shapeObject {
		return nil, fmt.Errorf("%w: not a JSON object", ErrUnrecognizedFormat)
	}
	var doc object
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedFormat, err)
	}
	return doc, nil
}

// matchingLoaders lists every loader whose detector accepts doc.
func matchingLoaders(doc object) []string {
	var out []string
	for _, l := range legacyLoaders {
		if l.detect(doc) {
			out = append(out, l.version)
		}
	}
	return out
}

// build turns a decoded payload into a saved session.
func (d *decoded) build() (*session.Session, error) {
	return session.NewSaved(d.params, d.states)
}
