package transport

import "sync"

// Handler receives every payload published on the subscribed topic, in
// publish order for that topic. Handlers run on the client's dispatch
// goroutine; they must not block.
type Handler func(payload []byte)

// Subscription is one topic binding. Cancel is idempotent.
type Subscription struct {
	topic   string
	handler Handler

	once   sync.Once
	cancel func(*Subscription)
}

func (s *Subscription) Topic() string { return s.topic }

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel(s)
		}
	})
}
