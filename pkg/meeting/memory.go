package meeting

import "sync"

// ConversationMemory is the append-only, ordered log of MeetingEvents
// for one room agent. It is the sole source of truth for the history
// sent to the LLM; entries are never mutated or removed while the agent
// lives.
type ConversationMemory struct {
	mu     sync.Mutex
	events []*MeetingEvent
}

// NewConversationMemory returns an empty memory.
func NewConversationMemory() *ConversationMemory {
	return &ConversationMemory{}
}

// AppendSpeech records one speech turn.
func (m *ConversationMemory) AppendSpeech(participantName string, isBot bool, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, &MeetingEvent{Speech: &SpeechEvent{
		ParticipantName: participantName,
		IsBot:           isBot,
		Text:            text,
	}})
}

// AppendPresence records a join/leave marker.
func (m *ConversationMemory) AppendPresence(presence *PresenceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, &MeetingEvent{Presence: presence})
}

// Snapshot returns a copy of the events recorded so far, safe to hand to
// a concurrent LLM request without holding the memory's lock.
func (m *ConversationMemory) Snapshot() []*MeetingEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*MeetingEvent, len(m.events))
	copy(out, m.events)
	return out
}

// Len reports how many events have been recorded.
func (m *ConversationMemory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
