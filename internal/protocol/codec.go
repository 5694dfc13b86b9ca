package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Decoder limits. A /16 sweep can report up to 65536 neighbours.
const (
	MaxArrayElements = 1 << 16
	MaxMapPairs      = 1 << 10
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}

	// Unknown fields are ignored so hubs and agents can be upgraded
	// independently. Frame size is bounded by the websocket read limit.
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  16,
		MaxArrayElements: MaxArrayElements,
		MaxMapPairs:      MaxMapPairs,
	}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode validates m and encodes it as one binary websocket frame.
func Encode(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return encMode.Marshal(m)
}

// Decode parses and validates one frame.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := decMode.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := m.Validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}
