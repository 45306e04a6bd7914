package context

// Store holds a bounded conversation history per user.
type Store interface {
	Append(userID int64, turn Turn)
	Clear(userID int64)
	Get(userID int64) []Turn
}

// Compressor reduces a list of turns to fit within constraints.
type Compressor interface {
	Compress(turns []Turn) []Turn
}

// Composer renders a persona and a history snapshot into a single prompt.
type Composer interface {
	Compose(persona string, history []Turn) string
}
