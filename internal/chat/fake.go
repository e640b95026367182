package chat

import (
	"fmt"
	"sync"
)

// FakeCollaborator is an in-memory Collaborator test double. It plays the
// same role for workflow unit tests that a stubbed LLM client plays in the
// teacher's own test suite.
type FakeCollaborator struct {
	mu       sync.Mutex
	nextID   int
	Messages map[string]FakeMessage // handle -> message (deleted messages removed)
	Deleted  []string
}

// FakeMessage records the current text/keyboard of a sent message.
type FakeMessage struct {
	Text     string
	Keyboard *Keyboard
}

// NewFakeCollaborator constructs an empty FakeCollaborator.
func NewFakeCollaborator() *FakeCollaborator {
	return &FakeCollaborator{Messages: make(map[string]FakeMessage)}
}

func (f *FakeCollaborator) Send(text string, keyboard *Keyboard) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	handle := fmt.Sprintf("msg-%d", f.nextID)
	f.Messages[handle] = FakeMessage{Text: text, Keyboard: keyboard}
	return handle, nil
}

func (f *FakeCollaborator) Edit(handle, text string, keyboard *Keyboard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Messages[handle]; !ok {
		return fmt.Errorf("fake collaborator: unknown handle %q", handle)
	}
	f.Messages[handle] = FakeMessage{Text: text, Keyboard: keyboard}
	return nil
}

func (f *FakeCollaborator) Delete(handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.Messages, handle)
	f.Deleted = append(f.Deleted, handle)
	return nil
}

// AllText returns the current body of every live message. Earlier edits
// and deleted messages are not retained, so it reflects only the
// currently-live messages (spec §8 property 4).
func (f *FakeCollaborator) AllText() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.Messages {
		out = append(out, m.Text)
	}
	return out
}
