package rental

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsInt64(t *testing.T) {
	for _, v := range []any{4, int32(4), int64(4), float64(4), "4"} {
		n, err := asInt64("units", v)
		require.NoError(t, err, "%T", v)
		assert.Equal(t, int64(4), n)
	}
	_, err := asInt64("units", 4.5)
	assert.Error(t, err)
	_, err = asInt64("units", true)
	assert.Error(t, err)
}

func TestAsTime(t *testing.T) {
	want := time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)
	for _, v := range []any{want, "2026-02-03T00:00:00Z", "2026-02-03"} {
		got, err := asTime("d", v)
		require.NoError(t, err, "%v", v)
		assert.True(t, want.Equal(got), "%v", v)
	}

	opt, err := asOptionalTime("d", nil)
	require.NoError(t, err)
	assert.Nil(t, opt)

	_, err = asTime("d", "yesterday")
	assert.Error(t, err)
}

func TestNullable(t *testing.T) {
	assert.Nil(t, nullable(""))
	assert.Equal(t, "x", nullable("x"))
}
