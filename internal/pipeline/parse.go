package pipeline

import (
	"bytes"
	"encoding/json"
	"io"
	"reflect"
	"strings"

	"github.com/rotisserie/eris"
)

// decodeStrict parses raw as exactly one JSON object into dst. Surrounding
// whitespace is the only decoration accepted: fences, quoting, or trailing
// prose fail. Every key in required must be present. At every level, keys
// must match dst's json tags byte for byte and appear once, and null is
// only accepted where dst holds a pointer.
func decodeStrict(what, raw string, dst any, required []string) error {
	body := []byte(strings.TrimSpace(raw))
	fail := func(err error) error { return &SchemaError{What: what, Raw: raw, Err: err} }

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return fail(eris.Wrap(err, "not a JSON object"))
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fail(eris.New("not a JSON object"))
	}
	seen, err := walkObject(dec, reflect.TypeOf(dst), "")
	if err != nil {
		return fail(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fail(eris.New("trailing data after JSON object"))
	}
	for _, k := range required {
		if !seen[k] {
			return fail(eris.Errorf("missing key %q", k))
		}
	}

	strict := json.NewDecoder(bytes.NewReader(body))
	strict.DisallowUnknownFields()
	if err := strict.Decode(dst); err != nil {
		return fail(err)
	}
	return nil
}

// walkObject consumes the members of an object whose opening brace has
// been read, checking them against t. It returns the keys present.
func walkObject(dec *json.Decoder, t reflect.Type, path string) (map[string]bool, error) {
	t = deref(t)
	var fields map[string]reflect.Type
	var elem reflect.Type
	switch {
	case t != nil && t.Kind() == reflect.Struct:
		fields = jsonFields(t)
	case t != nil && t.Kind() == reflect.Map:
		elem = t.Elem()
	}

	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, eris.Wrap(err, "read key")
		}
		key, _ := tok.(string)
		at := path + "." + key
		if seen[key] {
			return nil, eris.Errorf("duplicate key %q", strings.TrimPrefix(at, "."))
		}
		seen[key] = true

		vt := elem
		if fields != nil {
			ft, ok := fields[key]
			if !ok {
				return nil, eris.Errorf("unknown key %q", strings.TrimPrefix(at, "."))
			}
			vt = ft
		}
		if err := walkValue(dec, vt, at); err != nil {
			return nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, eris.Wrap(err, "read object end")
	}
	return seen, nil
}

func walkValue(dec *json.Decoder, t reflect.Type, path string) error {
	tok, err := dec.Token()
	if err != nil {
		return eris.Wrap(err, "read value")
	}
	switch v := tok.(type) {
	case nil:
		if t != nil && t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface {
			return eris.Errorf("key %q must not be null", strings.TrimPrefix(path, "."))
		}
	case json.Delim:
		switch v {
		case '{':
			_, err := walkObject(dec, t, path)
			return err
		case '[':
			var elem reflect.Type
			if et := deref(t); et != nil && (et.Kind() == reflect.Slice || et.Kind() == reflect.Array) {
				elem = et.Elem()
			}
			for dec.More() {
				if err := walkValue(dec, elem, path+"[]"); err != nil {
					return err
				}
			}
			if _, err := dec.Token(); err != nil {
				return eris.Wrap(err, "read array end")
			}
		}
	}
	return nil
}

func deref(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// jsonFields maps the exact json tag names of t's exported fields to their
// types.
func jsonFields(t reflect.Type) map[string]reflect.Type {
	out := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		out[name] = f.Type
	}
	return out
}
