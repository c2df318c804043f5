package pstorage

import (
	"bytes"

	"github.com/PwzXxm/nrpc-lite/serialize"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
)

// File writes every save straight to disk, replacing the file atomically
type File struct {
	lock       deadlock.Mutex
	path       string
	serializer serialize.Serializer
}

func NewFile(path string, s serialize.Serializer) *File {
	return &File{path: path, serializer: orGob(s)}
}

func (f *File) Save(data interface{}) error {
	b, err := f.serializer.Serialize(data)
	if err != nil {
		return err
	}
	f.lock.Lock()
	defer f.lock.Unlock()
	if err := ensureDir(f.path); err != nil {
		return err
	}
	return errors.WithStack(atomic.WriteFile(f.path, bytes.NewReader(b)))
}

func (f *File) Load(data interface{}) (bool, error) {
	f.lock.Lock()
	b, err := readFile(f.path)
	f.lock.Unlock()
	if err != nil || b == nil {
		return false, err
	}
	return true, f.serializer.Deserialize(b, data)
}
