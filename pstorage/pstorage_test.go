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

package pstorage

import (
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/PwzXxm/nrpc-lite/serialize"
	"github.com/pkg/errors"
)

type testTable struct {
	Services map[string][]string
	Version  int
}

func tempPath(t *testing.T) (string, func()) {
	dir, err := ioutil.TempDir("", "pstorage")
	if err != nil {
		log.Fatal(err)
	}
	return filepath.Join(dir, "nested", "table.bin"), func() { os.RemoveAll(dir) }
}

// test memory based persistent storage
func TestMemoryBased(t *testing.T) {
	testPersistentStorage(t, NewMemory(nil))
	testPersistentStorage(t, NewMemory(serialize.JSON{}))
}

// test file based persistent storage, the parent directory is created on save
func TestFileBased(t *testing.T) {
	path, cleanup := tempPath(t)
	defer cleanup()
	testPersistentStorage(t, NewFile(path, nil))

	// a fresh instance reads what the first one wrote
	var table testTable
	hasData, err := NewFile(path, nil).Load(&table)
	checkNoError(t, err)
	if !hasData || table.Version != 7 {
		t.Errorf("Should load the saved table, got: %v %v", hasData, table)
	}
}

// test hybrid based persistent storage
func TestHybridBased(t *testing.T) {
	path, cleanup := tempPath(t)
	defer cleanup()

	m := NewHybrid(path, time.Hour, nil, nil)
	testPersistentStorage(t, m)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Nothing should be on disk before a flush.")
	}
	checkNoError(t, m.Stop())
	checkNoError(t, m.Stop())

	var table testTable
	hasData, err := NewHybrid(path, time.Hour, nil, nil).Load(&table)
	checkNoError(t, err)
	if !hasData || table.Version != 7 {
		t.Errorf("Should load the flushed table, got: %v %v", hasData, table)
	}
}

// check with errors
func checkNoError(t *testing.T, err error) {
	if err != nil {
		t.Errorf("Shouldn't be an error: %+v", errors.WithStack(err))
	}
}

// test save and load persistent storage
func testPersistentStorage(t *testing.T, p PersistentStorage) {
	var data testTable
	hasData, err := p.Load(&data)
	checkNoError(t, err)
	if hasData {
		t.Error("Should be empty.")
	}
	data.Services = map[string][]string{"greeter/default": {"127.0.0.1:8088"}}
	data.Version = 7
	// test save
	checkNoError(t, p.Save(data))
	// test load, twice, loading must not consume the value
	for i := 0; i < 2; i++ {
		var data2 testTable
		hasData, err = p.Load(&data2)
		checkNoError(t, err)
		if !hasData {
			t.Error("Shouldn't be empty.")
		}
		if data2.Version != 7 || len(data2.Services["greeter/default"]) != 1 {
			t.Errorf("Data should be the same, data1: %v, data2: %v", data, data2)
		}
	}
}
