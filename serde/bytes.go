package serde

type bytesSerde struct{}

// Bytes returns a Serde that passes raw bytes through unchanged.
func Bytes() Serde[[]byte] {
	return bytesSerde{}
}

func (bytesSerde) Serialise(_ string, value []byte) ([]byte, error) {
	return value, nil
}

func (bytesSerde) Deserialise(_ string, data []byte) ([]byte, error) {
	return data, nil
}
