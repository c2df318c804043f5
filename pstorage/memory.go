package pstorage

import (
	"github.com/PwzXxm/nrpc-lite/serialize"
	"github.com/sasha-s/go-deadlock"
)

// Memory keeps the last saved value as encoded bytes
type Memory struct {
	lock       deadlock.Mutex
	serializer serialize.Serializer
	data       []byte
}

func NewMemory(s serialize.Serializer) *Memory {
	return &Memory{serializer: orGob(s)}
}

func (m *Memory) Save(data interface{}) error {
	b, err := m.serializer.Serialize(data)
	if err != nil {
		return err
	}
	m.lock.Lock()
	m.data = b
	m.lock.Unlock()
	return nil
}

func (m *Memory) Load(data interface{}) (bool, error) {
	m.lock.Lock()
	b := m.data
	m.lock.Unlock()
	if len(b) == 0 {
		return false, nil
	}
	return true, m.serializer.Deserialize(b, data)
}
