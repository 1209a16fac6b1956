// Package transcript keeps the running conversation with the model: one
// system message that is rewritten every turn, followed by alternating
// assistant replies and user-side results.
package transcript

// Compressor reduces history to fit within constraints.
type Compressor interface {
	Compress(messages []Message) []Message
}

// WindowCompressor keeps only the last MaxMessages history messages.
// Zero keeps everything.
type WindowCompressor struct {
	MaxMessages int
}

// Compress truncates messages to the most recent MaxMessages entries.
func (c WindowCompressor) Compress(messages []Message) []Message {
	if c.MaxMessages <= 0 || len(messages) <= c.MaxMessages {
		return messages
	}
	return messages[len(messages)-c.MaxMessages:]
}

// Usage accumulates token counts across turns.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Add folds one completion's counts in. A zero total is derived.
func (u *Usage) Add(prompt, completion, total int) {
	if total == 0 {
		total = prompt + completion
	}
	u.Prompt += prompt
	u.Completion += completion
	u.Total += total
}

// Transcript is not safe for concurrent use; the loop owns it.
type Transcript struct {
	system     string
	history    []Message
	compressor Compressor
	usage      Usage
}

// New starts a transcript with the given system prompt.
func New(system string, compressor Compressor) *Transcript {
	if compressor == nil {
		compressor = WindowCompressor{}
	}
	return &Transcript{system: system, compressor: compressor}
}

// System returns the current system prompt.
func (t *Transcript) System() string { return t.system }

// SetSystem replaces the system prompt for the next request.
func (t *Transcript) SetSystem(system string) { t.system = system }

// Append adds a message. Empty content is dropped.
func (t *Transcript) Append(role, content string) {
	if content == "" {
		return
	}
	t.history = append(t.history, Message{Role: role, Content: content})
}

// Len is the number of history messages, excluding the system prompt.
func (t *Transcript) Len() int { return len(t.history) }

// Messages returns the request payload: system prompt then compressed history.
func (t *Transcript) Messages() []Message {
	history := t.compressor.Compress(t.history)
	messages := make([]Message, 0, 1+len(history))
	messages = append(messages, Message{Role: RoleSystem, Content: t.system})
	messages = append(messages, history...)
	return messages
}

// Record adds one completion's token counts.
func (t *Transcript) Record(prompt, completion, total int) {
	t.usage.Add(prompt, completion, total)
}

// Usage returns the accumulated token counts.
func (t *Transcript) Usage() Usage { return t.usage }
