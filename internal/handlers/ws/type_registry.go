package ws

import (
	"reflect"
)

// typeRegistry maps a frame's type tag to the concrete message type it
// decodes into. Populated once at init; read-only afterwards.
var typeRegistry = map[string]reflect.Type{}

func init() {
	register(&MessageChat{})
	register(&MessageTyping{})
	register(&MessageReceipt{})
	register(&MessageJoin{})
	register(&MessageLeave{})
	register(&MessagePing{})
	register(&MessagePong{})
}

func register(msg Message) {
	typeRegistry[msg.GetType()] = reflect.TypeOf(msg).Elem()
}
