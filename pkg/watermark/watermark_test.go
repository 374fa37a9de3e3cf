package watermark

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sqlstream/pkg/errors"
	"github.com/ajitpratap0/sqlstream/pkg/testutil"
)

func writeState(t *testing.T, content string) string {
	return testutil.WriteFile(t, "state.yml", content)
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "missing.yml"))

	m, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, m)

	_, ok := s.Get("users")
	assert.False(t, ok)
}

func TestFileStore_NoDataDocuments(t *testing.T) {
	for name, content := range map[string]string{
		"empty":      "",
		"false":      "false\n",
		"empty list": "[]\n",
		"null":       "null\n",
		"no key":     "other: 1\n",
	} {
		t.Run(name, func(t *testing.T) {
			s := NewFileStore(writeState(t, content))
			m, err := s.Load()
			require.NoError(t, err)
			assert.Empty(t, m)
		})
	}
}

func TestFileStore_CorruptDocuments(t *testing.T) {
	for name, content := range map[string]string{
		"scalar":            "hello\n",
		"true":              "true\n",
		"list":              "- a\n- b\n",
		"last_records list": "last_records:\n  - 1\n",
		"bad yaml":          "last_records: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			s := NewFileStore(writeState(t, content))
			_, err := s.Load()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeCorruptState))
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestFileStore_PersistLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yml")
	s := NewFileStore(path)
	_, err := s.Load()
	require.NoError(t, err)

	s.Set("users", 1042)
	s.Set("events", time.Date(2024, 3, 1, 12, 30, 0, 500000000, time.UTC))
	s.Set("tags", "k-0099")
	s.Set("scores", 12.5)
	s.Set("ratios", 5.0)
	s.Set("volumes", float32(3e21))
	s.Set("shipped", time.Date(2024, 3, 1, 7, 30, 0, 0, time.FixedZone("EST", -5*3600)))
	require.NoError(t, s.Persist())

	reloaded := NewFileStore(path)
	m, err := reloaded.Load()
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), m)
	assert.Equal(t, Map{
		"users":   int64(1042),
		"events":  "2024-03-01 12:30:00.5",
		"tags":    "k-0099",
		"scores":  12.5,
		"ratios":  float64(5),
		"volumes": float64(float32(3e21)),
		"shipped": "2024-03-01 12:30:00",
	}, m)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ratios: 5.0")
}

func TestFileStore_PersistPreservesOtherKeys(t *testing.T) {
	path := writeState(t, "owner: ops\nlast_records:\n  users: 3\n")
	s := NewFileStore(path)
	_, err := s.Load()
	require.NoError(t, err)

	s.Set("users", 4)
	require.NoError(t, s.Persist())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "owner: ops")
	assert.Contains(t, string(data), "users: 4")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	s.Set("users", uint32(9))
	require.NoError(t, s.Persist())

	v, ok := s.Get("users")
	require.True(t, ok)
	assert.Equal(t, int64(9), v)

	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Map{"users": int64(9)}, m)
}

func TestOpen(t *testing.T) {
	s, volatile, err := Open("")
	require.NoError(t, err)
	assert.True(t, volatile)
	assert.IsType(t, &MemoryStore{}, s)

	s, volatile, err = Open(filepath.Join(t.TempDir(), "state.yml"))
	require.NoError(t, err)
	assert.False(t, volatile)
	assert.IsType(t, &FileStore{}, s)

	_, _, err = Open(writeState(t, "42\n"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeCorruptState))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, int64(5), Normalize(int32(5)))
	assert.Equal(t, uint64(1<<63), Normalize(uint64(1<<63)))
	assert.Equal(t, "abc", Normalize([]byte("abc")))
	assert.Equal(t, float64(1.5), Normalize(float32(1.5)))
	assert.Equal(t, "2024-01-02 03:04:05", Normalize(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))
	// offsets are folded into UTC wall-clock time
	assert.Equal(t, "2024-03-01 12:30:00", Normalize(time.Date(2024, 3, 1, 7, 30, 0, 0, time.FixedZone("EST", -5*3600))))
	assert.Equal(t, "2024-03-01 02:30:00", Normalize(time.Date(2024, 3, 1, 7, 30, 0, 0, time.FixedZone("PKT", 5*3600))))
}
