package util

import (
	"encoding/json"
)

type EncoderDecoder[T any] interface {
	Encode(value T) ([]byte, error)
	Decode(data []byte) (*T, error)
}

type JsonEncDec[T any] struct{}

var _ EncoderDecoder[any] = new(JsonEncDec[any])

func NewJsonEncoderDecoder[T any]() *JsonEncDec[T] {
	return &JsonEncDec[T]{}
}

func (encdec *JsonEncDec[T]) Encode(value T) ([]byte, error) {
	return json.Marshal(value)
}

func (encdec *JsonEncDec[T]) Decode(data []byte) (*T, error) {
	var res T
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DecodeAll decodes every payload, stopping at the first malformed one.
func DecodeAll[T any](encdec EncoderDecoder[T], payloads []string) ([]*T, error) {
	out := make([]*T, 0, len(payloads))
	for _, p := range payloads {
		v, err := encdec.Decode([]byte(p))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
