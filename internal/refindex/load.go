package refindex

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// idKeys are tried in order to derive a record id from its source object.
var idKeys = []string{"certificate_id", "registration_number", "id", "license_number"}

// LoadPaths reads reference records from each path. Directories contribute
// their .json, .yaml and .yml files in name order.
func LoadPaths(paths ...string) ([]Record, error) {
	var records []Record
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, eris.Wrapf(err, "refindex: stat %s", p)
		}

		files := []string{p}
		if info.IsDir() {
			files, err = dataFiles(p)
			if err != nil {
				return nil, err
			}
		}
		for _, f := range files {
			recs, err := LoadFile(f)
			if err != nil {
				return nil, err
			}
			records = append(records, recs...)
		}
	}
	return records, nil
}

func dataFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "refindex: read dir %s", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadFile reads one file holding a list of reference objects, or a single
// object. JSON keeps each object's key order in the record text; YAML
// objects are re-encoded with sorted keys.
func LoadFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "refindex: read %s", path)
	}

	var records []Record
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		records, err = parseYAML(data)
	default:
		records, err = parseJSON(data)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "refindex: parse %s", path)
	}
	return records, nil
}

func parseJSON(data []byte) ([]Record, error) {
	data = bytes.TrimSpace(data)
	var raws []json.RawMessage
	if len(data) > 0 && data[0] == '{' {
		raws = []json.RawMessage{data}
	} else if err := json.Unmarshal(data, &raws); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(raws))
	for i, raw := range raws {
		var obj map[string]any
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&obj); err != nil {
			return nil, eris.Wrapf(err, "entry %d is not an object", i)
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return nil, eris.Wrapf(err, "entry %d", i)
		}
		records = append(records, newRecord(obj, buf.String()))
	}
	return records, nil
}

func parseYAML(data []byte) ([]Record, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}

	var objs []map[string]any
	if len(node.Content) > 0 && node.Content[0].Kind == yaml.MappingNode {
		var obj map[string]any
		if err := node.Decode(&obj); err != nil {
			return nil, err
		}
		objs = []map[string]any{obj}
	} else if err := node.Decode(&objs); err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(objs))
	for i, obj := range objs {
		text, err := json.Marshal(obj)
		if err != nil {
			return nil, eris.Wrapf(err, "entry %d", i)
		}
		records = append(records, newRecord(obj, string(text)))
	}
	return records, nil
}

func newRecord(obj map[string]any, text string) Record {
	return Record{ID: recordID(obj, text), Text: text}
}

// recordID picks the first non-empty id key, else a digest of the text.
func recordID(obj map[string]any, text string) string {
	for _, k := range idKeys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			return s
		}
	}
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

// Dedupe keeps the last record for each id, in first-seen order.
func Dedupe(records []Record) []Record {
	pos := make(map[string]int, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if i, ok := pos[r.ID]; ok {
			out[i] = r
			continue
		}
		pos[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}
