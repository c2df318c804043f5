// Package utils contains small helpers shared by every package
package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math/rand"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func init() {
	rand.Seed(time.Now().UnixNano())
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Random an integer within the range
func Random(a, b int) int {
	return rand.Intn(b-a+1) + a
}

func RandomTime(a, b time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(b-a+1)) + int64(a))
}

// ReadFromJSON decodes the JSON file at path into v
func ReadFromJSON(v interface{}, path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.Wrapf(json.Unmarshal(data, v), "parse %v", path)
}

// NopLogger is used by components constructed without a logger
func NopLogger() *logrus.Entry {
	l := logrus.New()
	l.Out = ioutil.Discard
	return logrus.NewEntry(l)
}

// OrNop returns logger, or a discarding logger when it is nil
func OrNop(logger *logrus.Entry) *logrus.Entry {
	if logger == nil {
		return NopLogger()
	}
	return logger
}

// PrintUsage prints "cmd usage" lines sorted by command
func PrintUsage(usage map[string]string) {
	cmds := make([]string, 0, len(usage))
	width := 0
	for cmd := range usage {
		cmds = append(cmds, cmd)
		width = Max(width, len(cmd))
	}
	sort.Strings(cmds)
	for _, cmd := range cmds {
		fmt.Fprintf(os.Stdout, "  %v%v  %v\n", cmd,
			strings.Repeat(" ", width-len(cmd)), usage[cmd])
	}
}
