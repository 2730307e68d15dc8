package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestOpen(t *testing.T) {
	m, err := Open(writeFile(t, []byte("header|payload")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	assert.Equal(t, 14, m.Size())
	assert.Equal(t, []byte("header|payload"), m.Bytes())
	require.NoError(t, m.Advise(AdviseRandom))

	tests := []struct {
		name string
		off  int64
		size int
		want string
		err  error
	}{
		{"inside", 7, 7, "payload", nil},
		{"short tail", 10, 8, "load", io.EOF},
		{"past end", 100, 4, "", io.EOF},
		{"negative", -1, 4, "", ErrInvalidOffset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, tt.size)
			n, err := m.ReadAt(buf, tt.off)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.want, string(buf[:n]))
		})
	}
}

func TestOpenEmpty(t *testing.T) {
	m, err := Open(writeFile(t, nil))
	require.NoError(t, err)
	assert.Zero(t, m.Size())
	assert.NoError(t, m.Advise(AdviseSequential))
	assert.NoError(t, m.Close())
}

func TestMapAnon(t *testing.T) {
	m, err := MapAnon(4096)
	require.NoError(t, err)

	data := m.Bytes()
	require.Len(t, data, 4096)
	assert.Zero(t, data[100])
	data[100] = 7

	buf := make([]byte, 1)
	_, err = m.ReadAt(buf, 100)
	require.NoError(t, err)
	assert.Equal(t, byte(7), buf[0])

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())
	assert.ErrorIs(t, m.Advise(AdviseRandom), ErrClosed)
	_, err = m.ReadAt(buf, 0)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = MapAnon(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}
