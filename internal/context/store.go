package context

import "sync"

// DefaultMaxMessages is the context window used when none is configured.
const DefaultMaxMessages = 5

// MemoryStore keeps per-user histories in process memory. Histories are
// created lazily and live for the lifetime of the store.
type MemoryStore struct {
	mu         sync.Mutex
	compressor SimpleCompressor
	histories  map[int64][]Turn
}

// NewMemoryStore creates a store whose histories never exceed maxMessages
// turns. A non-positive maxMessages disables truncation.
func NewMemoryStore(maxMessages int) *MemoryStore {
	return &MemoryStore{
		compressor: SimpleCompressor{MaxMessages: maxMessages},
		histories:  make(map[int64][]Turn),
	}
}

// MaxMessages reports the configured window size.
func (s *MemoryStore) MaxMessages() int {
	return s.compressor.MaxMessages
}

// Append adds turn to the end of the user's history, evicting the oldest
// turns when the window is exceeded.
func (s *MemoryStore) Append(userID int64, turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.histories[userID], turn)
	kept := s.compressor.Compress(history)
	if len(kept) != len(history) {
		// Re-home the suffix so the evicted prefix can be collected.
		kept = append(make([]Turn, 0, len(kept)+1), kept...)
	}
	s.histories[userID] = kept
}

// Clear empties the user's history. Clearing an empty or unknown history is
// a no-op.
func (s *MemoryStore) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[userID] = []Turn{}
}

// Get returns a copy of the user's history in chronological order. Unknown
// users have an empty history.
func (s *MemoryStore) Get(userID int64) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.histories[userID]
	out := make([]Turn, len(history))
	copy(out, history)
	return out
}

// Len returns the number of turns currently held for the user.
func (s *MemoryStore) Len(userID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.histories[userID])
}
