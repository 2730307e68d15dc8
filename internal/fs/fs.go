package fs

import (
	"io"
	"os"
)

// File is the positional file surface the File store needs.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
	Stat() (os.FileInfo, error)
}

// FileSystem opens files.
type FileSystem interface {
	OpenFile(name string, flag int, perm os.FileMode) (File, error)
}

type osFS struct{}

func (osFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm) //nolint:gosec // path is chosen by the caller
}

// Default opens files with the os package.
var Default FileSystem = osFS{}
