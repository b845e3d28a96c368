package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Variable is one template placeholder substitution.
type Variable struct {
	Key   string
	Value string
}

// Variables is an ordered set of template substitutions. It encodes as a JSON
// object in insertion order and decodes only objects whose values are strings.
type Variables []Variable

func (v Variables) Get(key string) (string, bool) {
	for _, kv := range v {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

func (v Variables) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kv := range v {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(kv.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(kv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (v *Variables) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("variables must be a JSON object")
	}

	out := Variables{}
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return errors.New("variables key must be a string")
		}

		tok, err = dec.Token()
		if err != nil {
			return err
		}
		val, ok := tok.(string)
		if !ok {
			return fmt.Errorf("variable %q must be a string", key)
		}

		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate variable %q", key)
		}
		seen[key] = struct{}{}
		out = append(out, Variable{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*v = out
	return nil
}
