package serde

import (
	"google.golang.org/protobuf/proto"
)

type protobufSerde[T proto.Message] struct{}

// Protobuf returns a Serde for generated protobuf message types.
func Protobuf[T proto.Message]() Serde[T] {
	return protobufSerde[T]{}
}

func (protobufSerde[T]) Serialise(_ string, value T) ([]byte, error) {
	return proto.Marshal(value)
}

func (protobufSerde[T]) Deserialise(_ string, data []byte) (T, error) {
	var zero T
	msg := zero.ProtoReflect().New().Interface().(T)
	err := proto.Unmarshal(data, msg)
	return msg, err
}
