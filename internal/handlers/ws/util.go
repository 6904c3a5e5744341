package ws

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Serialize flattens a typed message into one wire frame.
func Serialize(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return json.Marshal(SerializedMessage{Type: msg.GetType(), Payload: payload})
}

// Deserialize decodes an inbound frame into the message type registered for
// its type tag. An unknown tag is an error for the caller to report; the
// connection itself stays open. A missing payload is fine, the keepalive
// frames carry none.
func Deserialize(frame []byte) (Message, error) {
	var wrapper SerializedMessage
	if err := json.Unmarshal(frame, &wrapper); err != nil {
		return nil, err
	}

	typ, ok := typeRegistry[wrapper.Type]
	if !ok {
		return nil, fmt.Errorf("unknown message type: %s", wrapper.Type)
	}

	msg := reflect.New(typ).Interface().(Message)
	if len(wrapper.Payload) > 0 {
		if err := json.Unmarshal(wrapper.Payload, msg); err != nil {
			return nil, err
		}
	}
	return msg, nil
}
