package serde

type stringSerde struct{}

// String returns a Serde for UTF-8 string payloads.
func String() Serde[string] {
	return stringSerde{}
}

func (stringSerde) Serialise(_ string, value string) ([]byte, error) {
	return []byte(value), nil
}

func (stringSerde) Deserialise(_ string, data []byte) (string, error) {
	return string(data), nil
}
