package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesStack(t *testing.T) {
	inner := New(ErrorTypeQuery, "syntax error")
	outer := Wrap(inner, ErrorTypeExtraction, "extraction failed")

	require.NotNil(t, outer)
	assert.Equal(t, inner.Stack, outer.Stack)
	assert.Equal(t, "extraction: extraction failed: query: syntax error", outer.Error())
	assert.Nil(t, Wrap(nil, ErrorTypeQuery, "nothing"))
}

func TestIsTypeWalksChain(t *testing.T) {
	err := Wrap(fmt.Errorf("driver: %w", New(ErrorTypeConnection, "refused")), ErrorTypeExtraction, "cycle")

	assert.True(t, IsType(err, ErrorTypeExtraction))
	assert.True(t, IsType(err, ErrorTypeConnection))
	assert.False(t, IsType(err, ErrorTypeConfig))
	assert.False(t, IsType(fmt.Errorf("plain"), ErrorTypeConfig))
}

func TestDetailLookup(t *testing.T) {
	inner := New(ErrorTypeConnection, "describe failed").WithDetail(DetailStage, StageStartup)
	outer := Wrap(inner, ErrorTypeConnection, "validate")

	v, ok := outer.Detail(DetailStage)
	require.True(t, ok)
	assert.Equal(t, StageStartup, v)

	_, ok = outer.Detail("missing")
	assert.False(t, ok)
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, ErrorTypeOversized, TypeOf(New(ErrorTypeOversized, "too big")))
	assert.Equal(t, ErrorTypeInternal, TypeOf(fmt.Errorf("plain")))
}
