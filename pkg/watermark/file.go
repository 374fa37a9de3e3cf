package watermark

import (
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/sqlstream/pkg/errors"
)

// FileStore keeps checkpoints in a YAML document of the form
//
//	last_records:
//	  users: 1042
//	  events: "2024-03-01 12:30:00"
//
// Other top-level keys found in the file are preserved on Persist.
type FileStore struct {
	path string

	mu      sync.RWMutex
	doc     map[string]interface{}
	records Map
}

// NewFileStore creates a store backed by path. Call Load before use.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:    path,
		doc:     make(map[string]interface{}),
		records: make(Map),
	}
}

// Path returns the backing file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the state file. A missing file and documents that carry no data
// (empty, null, false or an empty list) yield an empty map; anything else that
// is not a mapping is reported as corrupt state.
func (s *FileStore) Load() (Map, error) {
	data, err := os.ReadFile(s.path) //nolint:gosec // G304: path comes from operator configuration
	if err != nil {
		if os.IsNotExist(err) {
			s.reset(make(map[string]interface{}), make(Map))
			return make(Map), nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to read state file").
			WithDetail("path", s.path)
	}

	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeCorruptState, "state file is not valid YAML").
			WithDetail("path", s.path)
	}

	doc, err := s.decodeDocument(raw)
	if err != nil {
		return nil, err
	}

	records := make(Map)
	switch lr := doc[LastRecordsKey].(type) {
	case nil:
	case map[string]interface{}:
		for table, v := range lr {
			records[table] = Normalize(v)
		}
	default:
		return nil, errors.Newf(errors.ErrorTypeCorruptState, "state file on %q is invalid: %s is not a mapping", s.path, LastRecordsKey).
			WithDetail("path", s.path)
	}

	s.reset(doc, records)
	return records.Clone(), nil
}

func (s *FileStore) decodeDocument(raw interface{}) (map[string]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return make(map[string]interface{}), nil
	case bool:
		if !v {
			return make(map[string]interface{}), nil
		}
	case []interface{}:
		if len(v) == 0 {
			return make(map[string]interface{}), nil
		}
	case map[string]interface{}:
		return v, nil
	}
	return nil, errors.Newf(errors.ErrorTypeCorruptState, "state file on %q is invalid", s.path).
		WithDetail("path", s.path)
}

func (s *FileStore) reset(doc map[string]interface{}, records Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.records = records
}

// Get returns the checkpoint of a table
func (s *FileStore) Get(table string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[table]
	return v, ok
}

// Set records a new checkpoint for a table. It is not durable until Persist.
func (s *FileStore) Set(table string, checkpoint interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[table] = Normalize(checkpoint)
}

// Snapshot returns a copy of the current map
func (s *FileStore) Snapshot() Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records.Clone()
}

// Persist rewrites the whole document through a temporary file in the same
// directory followed by a rename.
func (s *FileStore) Persist() error {
	s.mu.RLock()
	doc := make(map[string]interface{}, len(s.doc)+1)
	for k, v := range s.doc {
		doc[k] = v
	}
	records := make(map[string]interface{}, len(s.records))
	for table, v := range s.records {
		records[table] = encodeCheckpoint(v)
	}
	doc[LastRecordsKey] = records
	s.mu.RUnlock()

	data, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to encode state").
			WithDetail("path", s.path)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create temporary state file").
			WithDetail("path", s.path)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write state file").
			WithDetail("path", s.path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to sync state file").
			WithDetail("path", s.path)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to close state file").
			WithDetail("path", s.path)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to replace state file").
			WithDetail("path", s.path)
	}

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// encodeCheckpoint keeps floats typed as floats in the document. yaml.v3
// writes float64(5) as "5", which would load back as an integer.
func encodeCheckpoint(v interface{}) interface{} {
	f, ok := v.(float64)
	if !ok {
		return v
	}

	var text string
	switch {
	case math.IsNaN(f):
		text = ".nan"
	case math.IsInf(f, 1):
		text = ".inf"
	case math.IsInf(f, -1):
		text = "-.inf"
	default:
		text = strconv.FormatFloat(f, 'g', -1, 64)
		if !strings.ContainsAny(text, ".e") {
			text += ".0"
		}
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: text}
}
