/*
 * Project: nrpc-lite
 * ---------------------
 * Authors:
 *   Minjian Chen 813534
 *   Shijie Liu   813277
 *   Weizhi Xu    752454
 *   Wenqing Xue  813044
 *   Zijun Chen   813190
 */

// Package pstorage persists one value (the registry server's table or a
// ledger) in memory, in a file, or in memory with periodic flushes to a
// file.
package pstorage

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/PwzXxm/nrpc-lite/serialize"
	"github.com/pkg/errors"
)

type PersistentStorage interface {
	Save(data interface{}) error
	// Load reports false when nothing was saved yet
	Load(data interface{}) (bool, error)
}

func orGob(s serialize.Serializer) serialize.Serializer {
	if s == nil {
		return serialize.Gob{}
	}
	return s
}

// ensureDir creates the parent directory of path if needed
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return errors.WithStack(os.MkdirAll(dir, os.ModePerm))
	}
	return nil
}

// readFile returns nil data when the file does not exist
func readFile(path string) ([]byte, error) {
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, errors.WithStack(err)
}
