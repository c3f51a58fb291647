package stagelink

import (
	"bytes"
	"errors"
	"sync"
)

// ScriptedPort implements Porter with canned replies for testing. Each
// Write of a command line consumes the next scripted reply, which the
// following Read returns.
type ScriptedPort struct {
	mu sync.Mutex

	// Replies holds the scripted reply lines, consumed in order. Lines
	// should include the trailing newline.
	Replies []string

	// WriteBuffer captures every command line written to the port.
	WriteBuffer bytes.Buffer

	// WriteError is returned by the next Write call if set.
	WriteError error

	// Closed indicates whether Close was called.
	Closed bool

	pending bytes.Buffer
}

// NewScriptedPort creates a ScriptedPort that replies with the given lines.
func NewScriptedPort(replies ...string) *ScriptedPort {
	return &ScriptedPort{Replies: replies}
}

// Write captures the command and queues the next scripted reply.
func (p *ScriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Closed {
		return 0, errors.New("port closed")
	}
	if p.WriteError != nil {
		err := p.WriteError
		p.WriteError = nil
		return 0, err
	}

	p.WriteBuffer.Write(b)
	if len(p.Replies) > 0 {
		p.pending.WriteString(p.Replies[0])
		p.Replies = p.Replies[1:]
	}
	return len(b), nil
}

// Read returns queued reply bytes.
func (p *ScriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Closed {
		return 0, errors.New("port closed")
	}
	if p.pending.Len() == 0 {
		return 0, errors.New("no scripted reply pending")
	}
	return p.pending.Read(b)
}

// Close marks the port as closed.
func (p *ScriptedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Commands returns the command lines written so far.
func (p *ScriptedPort) Commands() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.WriteBuffer.String()
}
