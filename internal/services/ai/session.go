package ai

import "sync"

// Exchange is one prompt and the reply it produced
type Exchange struct {
	Query string
	Reply string
}

// Session is the rolling history of one chat. Once it holds capacity
// exchanges it is cleared and starts over.
type Session struct {
	mu       sync.Mutex
	history  []Exchange
	capacity int
}

func newSession(capacity int) *Session {
	return &Session{capacity: capacity}
}

// record must be called with mu held
func (s *Session) record(query, reply string) {
	s.history = append(s.history, Exchange{Query: query, Reply: reply})
	if s.capacity > 0 && len(s.history) >= s.capacity {
		s.history = nil
	}
}

// Exchanges returns a copy of the current history
func (s *Session) Exchanges() []Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]Exchange(nil), s.history...)
}
