package conv

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversions(t *testing.T) {
	u, err := IntToUint64(5)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), u)

	u, err = Int64ToUint64(math.MaxInt64)
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxInt64), u)

	u32, err := IntToUint32(math.MaxUint32)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), u32)

	n, err := Uint32ToInt(7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	n, err = Int64ToInt(-7)
	require.NoError(t, err)
	assert.Equal(t, -7, n)
}

func TestOverflow(t *testing.T) {
	_, err := IntToUint64(-1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = Int64ToUint64(math.MinInt64)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = IntToUint32(-1)
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = IntToUint32(math.MaxUint32 + 1)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Contains(t, err.Error(), "uint32")
}
