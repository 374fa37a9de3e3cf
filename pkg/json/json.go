// Package json serializes records into delivery payloads using goccy/go-json
package json

import (
	"bytes"
	"sync"
	"time"

	gojson "github.com/goccy/go-json"
)

// TimeLayout is the layout used for time values inside record payloads
const TimeLayout = "2006-01-02 15:04:05.000000-0700"

var bufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 4096))
	},
}

// Marshal encodes v without HTML escaping and without a trailing newline
func Marshal(v interface{}) ([]byte, error) {
	buf := bufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufferPool.Put(buf)

	enc := gojson.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}

	out := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	result := make([]byte, len(out))
	copy(result, out)
	return result, nil
}

// Unmarshal decodes data into v
func Unmarshal(data []byte, v interface{}) error {
	return gojson.Unmarshal(data, v)
}

// NormalizeValue converts a database value into a JSON-friendly scalar.
// Times use TimeLayout and byte slices become strings.
func NormalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case time.Time:
		return val.Format(TimeLayout)
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.Format(TimeLayout)
	case []byte:
		return string(val)
	default:
		return v
	}
}
