package util

import (
	"encoding/json"

	"google.golang.org/protobuf/types/known/structpb"
)

// ConvertToStruct round trips value through its JSON form into a protobuf Struct.
func ConvertToStruct(value any) (*structpb.Struct, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	m := make(map[string]any)
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func ConvertFromStruct(s *structpb.Struct, out any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
