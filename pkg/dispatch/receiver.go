package dispatch

import (
	"log"

	"github.com/librescoot/moteconnection/pkg/wire"
)

// MessageReceiver is the handler shape a user registers for a message
// type or as a default/snooper fallback: either a plain callback or a
// non-blocking queue. Constructors (MessageCallback, NewMessageQueue) push
// the distinction in up front, so Deliver never needs a runtime type
// switch on user input, matching the isinstance(receiver, Queue.Queue)
// check the original replaced with an explicit constructor choice
// (REDESIGN FLAG in spec §9).
type MessageReceiver interface {
	deliver(m *wire.Message)
}

// MessageCallback adapts a plain function into a MessageReceiver.
type MessageCallback func(m *wire.Message)

func (f MessageCallback) deliver(m *wire.Message) { f(m) }

// MessageQueue adapts a buffered channel into a MessageReceiver. Delivery
// is a non-blocking send: a full queue drops the message and logs, rather
// than stalling the supervisor loop that calls Deliver.
type MessageQueue struct {
	ch     chan *wire.Message
	logger *log.Logger
}

// NewMessageQueue wraps ch as a MessageReceiver. ch should be buffered; an
// unbuffered channel with no concurrent reader will drop every delivery.
func NewMessageQueue(ch chan *wire.Message, logger *log.Logger) *MessageQueue {
	return &MessageQueue{ch: ch, logger: logger}
}

func (q *MessageQueue) deliver(m *wire.Message) {
	select {
	case q.ch <- m:
	default:
		if q.logger != nil {
			q.logger.Printf("message queue full, dropping delivery for type %#02x", m.Type)
		}
	}
}

// Deliver hands message to receiver without blocking the caller (the
// supervisor goroutine). It is the Go analogue of the original's static
// _deliver helper, which picked between Queue.put and a direct call based
// on isinstance(receiver, Queue.Queue).
func Deliver(receiver MessageReceiver, message *wire.Message) {
	if receiver == nil {
		return
	}
	receiver.deliver(message)
}
