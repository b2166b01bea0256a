package presentation

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ultrahub-team/ultrahub/internal/raid"
)

// InMemory is a presenter for local runs without a bot gateway. It hands out
// synthetic artifact ids and tracks them so existence checks and deletions
// behave like the real surface.
type InMemory struct {
	mu       sync.Mutex
	messages map[string]bool
	threads  map[string]bool
	voice    map[string]bool
}

func NewInMemory() *InMemory {
	return &InMemory{
		messages: make(map[string]bool),
		threads:  make(map[string]bool),
		voice:    make(map[string]bool),
	}
}

func (p *InMemory) CreateDiscussion(_ context.Context, _ raid.Session) (raid.DiscussionArtifacts, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := raid.DiscussionArtifacts{
		MessageID: uuid.NewString(),
		ThreadID:  uuid.NewString(),
	}
	p.messages[a.MessageID] = true
	p.threads[a.ThreadID] = true
	return a, nil
}

func (p *InMemory) UpdatePanel(_ context.Context, s raid.Session) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s.MessageID != "" && !p.messages[s.MessageID] {
		return raid.ErrArtifactGone
	}
	return nil
}

func (p *InMemory) NotifyConfirmation(_ context.Context, _ raid.Session) error { return nil }

func (p *InMemory) AnnounceStart(_ context.Context, _ raid.Session) error { return nil }

func (p *InMemory) CreateVoiceRoom(_ context.Context, _ raid.Session) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := uuid.NewString()
	p.voice[id] = true
	return id, nil
}

func (p *InMemory) DeleteVoiceRoom(_ context.Context, _, voiceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.voice[voiceID] {
		return raid.ErrArtifactGone
	}
	delete(p.voice, voiceID)
	return nil
}

func (p *InMemory) DeleteMessage(_ context.Context, _, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.messages[messageID] {
		return raid.ErrArtifactGone
	}
	delete(p.messages, messageID)
	return nil
}

func (p *InMemory) ArchiveDiscussion(_ context.Context, threadID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.threads[threadID] {
		return raid.ErrArtifactGone
	}
	return nil
}

func (p *InMemory) PanelExists(_ context.Context, _, messageID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.messages[messageID], nil
}

// ForgetMessage drops a tracked message so restart reconciliation paths can
// be exercised.
func (p *InMemory) ForgetMessage(messageID string) {
	p.mu.Lock()
	delete(p.messages, messageID)
	p.mu.Unlock()
}
