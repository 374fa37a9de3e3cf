// Package kinesis delivers records to an Amazon Kinesis data stream.
//
// Delivery runs in three stages. A Formatter turns an event into a
// DeliveryUnit (JSON payload plus partition key), Assemble groups units into
// PutRecords-sized batches and rejects oversized payloads, and a Writer sends
// the batches, re-sending records the stream refused.
package kinesis

import (
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/ajitpratap0/sqlstream/pkg/config"
	"github.com/ajitpratap0/sqlstream/pkg/errors"
	jsonpool "github.com/ajitpratap0/sqlstream/pkg/json"
)

// MaxPartitionKeyLength is the longest partition key Kinesis accepts, in
// unicode code points
const MaxPartitionKeyLength = 256

// Event is one record handed to the sink
type Event struct {
	Tag    string
	Time   time.Time
	Record map[string]interface{}
}

// DeliveryUnit is the wire form of one record
type DeliveryUnit struct {
	Data         []byte
	PartitionKey string
}

// Size is the number of bytes the unit counts against request limits
func (u DeliveryUnit) Size() int {
	return len(u.Data) + len(u.PartitionKey)
}

// KeyTransform rewrites a partition key value before it is stringified
type KeyTransform func(value interface{}) (interface{}, error)

// Decorator adds derived fields to a copy of the record before serialization
type Decorator func(ev Event, record map[string]interface{})

// TimeKeyDecorator stores the event time under key
func TimeKeyDecorator(key, layout string) Decorator {
	if layout == "" {
		layout = time.RFC3339
	}
	return func(ev Event, record map[string]interface{}) {
		record[key] = ev.Time.Format(layout)
	}
}

// TagKeyDecorator stores the event tag under key
func TagKeyDecorator(key string) Decorator {
	return func(ev Event, record map[string]interface{}) {
		record[key] = ev.Tag
	}
}

// FormatterConfig controls payload and partition key derivation
type FormatterConfig struct {
	// PartitionKey names the record field holding the key. When empty and
	// RandomPartitionKey is unset the key is a name-based (MD5) UUID of the
	// whole record's JSON, so equal records land on the same shard.
	PartitionKey       string
	RandomPartitionKey bool
	KeyTransform       KeyTransform

	IncludeTimeKey bool
	TimeKey        string
	TimeFormat     string
	IncludeTagKey  bool
	TagKey         string
}

// FormatterConfigFromSink extracts formatter settings from the sink section
func FormatterConfigFromSink(s config.SinkConfig) FormatterConfig {
	return FormatterConfig{
		PartitionKey:       s.PartitionKey,
		RandomPartitionKey: s.RandomPartitionKey,
		IncludeTimeKey:     s.IncludeTimeKey,
		TimeKey:            s.TimeKey,
		TimeFormat:         s.TimeFormat,
		IncludeTagKey:      s.IncludeTagKey,
		TagKey:             s.TagKey,
	}
}

// Formatter converts events into delivery units. It holds no mutable state
// and may be shared between goroutines.
type Formatter struct {
	config     FormatterConfig
	decorators []Decorator
	newKey     func() string
}

// NewFormatter creates a formatter
func NewFormatter(cfg FormatterConfig) *Formatter {
	f := &Formatter{
		config: cfg,
		newKey: func() string { return uuid.NewString() },
	}
	if cfg.IncludeTimeKey {
		f.decorators = append(f.decorators, TimeKeyDecorator(cfg.TimeKey, cfg.TimeFormat))
	}
	if cfg.IncludeTagKey {
		f.decorators = append(f.decorators, TagKeyDecorator(cfg.TagKey))
	}
	return f
}

// Format serializes ev and derives its partition key. The event's record is
// not modified.
func (f *Formatter) Format(ev Event) (DeliveryUnit, error) {
	key, err := f.partitionKey(ev.Record)
	if err != nil {
		return DeliveryUnit{}, err
	}

	record := make(map[string]interface{}, len(ev.Record)+len(f.decorators))
	for k, v := range ev.Record {
		record[k] = v
	}
	for _, decorate := range f.decorators {
		decorate(ev, record)
	}

	data, err := jsonpool.Marshal(record)
	if err != nil {
		return DeliveryUnit{}, errors.Wrap(err, errors.ErrorTypeFormat, "failed to serialize record").
			WithDetail("tag", ev.Tag)
	}

	return DeliveryUnit{Data: data, PartitionKey: key}, nil
}

func (f *Formatter) partitionKey(record map[string]interface{}) (string, error) {
	if f.config.RandomPartitionKey {
		return f.newKey(), nil
	}

	var value interface{} = record
	if f.config.PartitionKey != "" {
		v, ok := record[f.config.PartitionKey]
		if !ok || v == nil {
			return "", errors.Newf(errors.ErrorTypeFormat, "partition key field %q is missing", f.config.PartitionKey)
		}
		value = v
	}

	if f.config.KeyTransform != nil {
		transformed, err := f.config.KeyTransform(value)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeFormat, "partition key transform failed").
				WithDetail("field", f.config.PartitionKey)
		}
		value = transformed
	}

	key, err := stringify(value)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeFormat, "failed to stringify partition key")
	}
	if f.config.PartitionKey == "" {
		key = uuid.NewMD5(uuid.NameSpaceOID, []byte(key)).String()
	}

	switch n := utf8.RuneCountInString(key); {
	case n == 0:
		return "", errors.New(errors.ErrorTypeFormat, "partition key is empty")
	case n > MaxPartitionKeyLength:
		return "", errors.Newf(errors.ErrorTypeFormat, "partition key is %d characters, limit is %d", n, MaxPartitionKeyLength)
	}
	return key, nil
}

func stringify(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return val.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return val.String(), nil
	case map[string]interface{}, []interface{}:
		b, err := jsonpool.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return fmt.Sprint(val), nil
	}
}
