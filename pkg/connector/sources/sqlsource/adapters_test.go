package sqlsource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/sqlstream/pkg/errors"
)

func TestMySQLConfig(t *testing.T) {
	t.Run("tcp", func(t *testing.T) {
		cfg := mysqlConfig(Options{Host: "db.internal", Database: "app", Username: "reader", Password: "secret"})
		assert.Equal(t, "tcp", cfg.Net)
		assert.Equal(t, "db.internal:3306", cfg.Addr)
		assert.Equal(t, "app", cfg.DBName)
		assert.Equal(t, "reader", cfg.User)
		assert.Equal(t, "secret", cfg.Passwd)
		assert.True(t, cfg.ParseTime)
		assert.Equal(t, time.UTC, cfg.Loc)
		assert.Equal(t, "'+00:00'", cfg.Params["time_zone"])
	})

	t.Run("custom port", func(t *testing.T) {
		cfg := mysqlConfig(Options{Host: "127.0.0.1", Port: 13306})
		assert.Equal(t, "127.0.0.1:13306", cfg.Addr)
	})

	t.Run("socket", func(t *testing.T) {
		cfg := mysqlConfig(Options{Host: "ignored", Socket: "/var/run/mysqld/mysqld.sock"})
		assert.Equal(t, "unix", cfg.Net)
		assert.Equal(t, "/var/run/mysqld/mysqld.sock", cfg.Addr)
	})
}

func TestPostgresPoolConfig(t *testing.T) {
	cfg, err := postgresPoolConfig(Options{
		Host:           "pg.internal",
		Database:       "app",
		Username:       "reader",
		Password:       "secret",
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	cc := cfg.ConnConfig
	assert.Equal(t, "pg.internal", cc.Host)
	assert.Equal(t, uint16(5432), cc.Port)
	assert.Equal(t, "app", cc.Database)
	assert.Equal(t, "reader", cc.User)
	assert.Equal(t, "secret", cc.Password)
	assert.Equal(t, 5*time.Second, cc.ConnectTimeout)
	assert.Empty(t, cc.Fallbacks)
	assert.Equal(t, int32(1), cfg.MaxConns)
	assert.Equal(t, "UTC", cc.RuntimeParams["timezone"])

	cfg, err = postgresPoolConfig(Options{Socket: "/var/run/postgresql", Port: 6432})
	require.NoError(t, err)
	assert.Equal(t, "/var/run/postgresql", cfg.ConnConfig.Host)
	assert.Equal(t, uint16(6432), cfg.ConnConfig.Port)
}

func TestConvertMySQLValue(t *testing.T) {
	tests := []struct {
		name     string
		typeName string
		in       interface{}
		want     interface{}
	}{
		{name: "bigint", typeName: "BIGINT", in: []byte("-42"), want: int64(-42)},
		{name: "unsigned bigint", typeName: "UNSIGNED BIGINT", in: []byte("18446744073709551615"), want: uint64(18446744073709551615)},
		{name: "double", typeName: "DOUBLE", in: []byte("1.5"), want: 1.5},
		{name: "decimal stays text", typeName: "DECIMAL", in: []byte("10.10"), want: "10.10"},
		{name: "varchar", typeName: "VARCHAR", in: []byte("alice"), want: "alice"},
		{name: "already typed", typeName: "BIGINT", in: int64(7), want: int64(7)},
		{name: "null", typeName: "VARCHAR", in: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertMySQLValue(tt.typeName, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := convertMySQLValue("INT", []byte("abc"))
	assert.Error(t, err)
}

func TestConvertPostgresValue(t *testing.T) {
	id := [16]byte{0x55, 0x0e, 0x84, 0x00, 0xe2, 0x9b, 0x41, 0xd4, 0xa7, 0x16, 0x44, 0x66, 0x55, 0x44, 0x00, 0x00}

	tests := []struct {
		name string
		in   interface{}
		want interface{}
	}{
		{name: "uuid", in: id, want: "550e8400-e29b-41d4-a716-446655440000"},
		{name: "int4", in: int32(12), want: int64(12)},
		{name: "int2", in: int16(3), want: int64(3)},
		{name: "float4", in: float32(0.5), want: float64(0.5)},
		{name: "text", in: "x", want: "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := convertPostgresValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenUnsupportedAdapter(t *testing.T) {
	_, err := Open(context.Background(), Options{Adapter: "sqlite3"}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.True(t, errors.IsFatal(err))
}
