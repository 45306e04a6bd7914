package context

// SimpleCompressor keeps only the last MaxMessages turns.
type SimpleCompressor struct {
	MaxMessages int
}

// Compress truncates turns to the most recent MaxMessages entries.
func (c *SimpleCompressor) Compress(turns []Turn) []Turn {
	if c.MaxMessages <= 0 || len(turns) <= c.MaxMessages {
		return turns
	}
	return turns[len(turns)-c.MaxMessages:]
}
