package pstorage

import (
	"bytes"
	"sync"
	"time"

	"github.com/PwzXxm/nrpc-lite/serialize"
	"github.com/PwzXxm/nrpc-lite/utils"
	"github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"github.com/sasha-s/go-deadlock"
	"github.com/sirupsen/logrus"
)

// Hybrid saves into memory and flushes to disk every interval when the
// value changed. Stop (or Flush) has to be called before quitting so the
// file is up to date.
type Hybrid struct {
	lock       deadlock.Mutex
	path       string
	serializer serialize.Serializer
	data       []byte
	changed    bool
	logger     *logrus.Entry
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewHybrid(path string, interval time.Duration, s serialize.Serializer,
	logger *logrus.Entry) *Hybrid {
	h := &Hybrid{
		path:       path,
		serializer: orGob(s),
		logger:     utils.OrNop(logger),
		stop:       make(chan struct{}),
	}
	go h.flushLoop(interval)
	return h
}

func (h *Hybrid) flushLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := h.Flush(); err != nil && h.logger != nil {
				h.logger.Errorf("[pstorage] unable to flush %v: %+v", h.path, err)
			}
		case <-h.stop:
			return
		}
	}
}

func (h *Hybrid) Save(data interface{}) error {
	b, err := h.serializer.Serialize(data)
	if err != nil {
		return err
	}
	h.lock.Lock()
	h.data = b
	h.changed = true
	h.lock.Unlock()
	return nil
}

func (h *Hybrid) Load(data interface{}) (bool, error) {
	h.lock.Lock()
	b := h.data
	if len(b) == 0 {
		var err error
		b, err = readFile(h.path)
		if err != nil {
			h.lock.Unlock()
			return false, err
		}
		h.data = b
	}
	h.lock.Unlock()
	if len(b) == 0 {
		return false, nil
	}
	return true, h.serializer.Deserialize(b, data)
}

func (h *Hybrid) Flush() error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if !h.changed {
		return nil
	}
	if err := ensureDir(h.path); err != nil {
		return err
	}
	if err := atomic.WriteFile(h.path, bytes.NewReader(h.data)); err != nil {
		return errors.WithStack(err)
	}
	h.changed = false
	return nil
}

func (h *Hybrid) Stop() error {
	h.stopOnce.Do(func() { close(h.stop) })
	return h.Flush()
}
