package serialize

import (
	"bytes"
	"encoding/gob"
	"encoding/json"

	"github.com/pkg/errors"
)

// Gob uses encoding/gob. Concrete types carried inside interface values
// have to be gob.Register-ed by the caller.
type Gob struct{}

func (Gob) Serialize(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

func (Gob) Deserialize(data []byte, v interface{}) error {
	return errors.WithStack(gob.NewDecoder(bytes.NewReader(data)).Decode(v))
}

// JSON uses encoding/json
type JSON struct{}

func (JSON) Serialize(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	return data, errors.WithStack(err)
}

func (JSON) Deserialize(data []byte, v interface{}) error {
	return errors.WithStack(json.Unmarshal(data, v))
}
