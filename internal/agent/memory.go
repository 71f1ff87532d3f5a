package agent

import "sync"

// Memory keeps the message history of each conversation thread of one account.
type Memory struct {
	mu       sync.Mutex
	threads  map[string][]Message
	maxTurns int
}

// NewMemory creates thread memory keeping at most maxTurns user turns per thread.
// A maxTurns <= 0 keeps everything.
func NewMemory(maxTurns int) *Memory {
	return &Memory{threads: make(map[string][]Message), maxTurns: maxTurns}
}

// History returns a copy of a thread's messages.
func (m *Memory) History(thread string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.threads[thread]...)
}

// Append adds one turn to a thread and drops the oldest turns beyond the limit.
// Turns always start with a user message, so tool call pairs are never split.
func (m *Memory) Append(thread string, turn []Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := append(m.threads[thread], turn...)
	if m.maxTurns > 0 {
		var starts []int
		for i, msg := range msgs {
			if msg.Role == "user" {
				starts = append(starts, i)
			}
		}
		if len(starts) > m.maxTurns {
			msgs = append([]Message(nil), msgs[starts[len(starts)-m.maxTurns]:]...)
		}
	}
	m.threads[thread] = msgs
}
