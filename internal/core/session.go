package core

import (
	"sync"

	"github.com/dayplan-app/waypoint/internal/domain"
)

// memberSession pairs member meta with its transport and tracks which topics
// the connection asked for. Fanout only touches subscribed sessions.
type memberSession struct {
	meta *domain.Member
	conn BusConnection

	mu     sync.RWMutex
	topics map[string]bool
}

func NewMemberSession(meta *domain.Member, conn BusConnection) MemberSession {
	return &memberSession{
		meta:   meta,
		conn:   conn,
		topics: make(map[string]bool),
	}
}

func (m *memberSession) Meta() *domain.Member { return m.meta }
func (m *memberSession) Conn() BusConnection  { return m.conn }

func (m *memberSession) Subscribe(topic string) {
	m.mu.Lock()
	m.topics[topic] = true
	m.mu.Unlock()
}

func (m *memberSession) Unsubscribe(topic string) {
	m.mu.Lock()
	delete(m.topics, topic)
	m.mu.Unlock()
}

func (m *memberSession) Subscribed(topic string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.topics[topic]
}
