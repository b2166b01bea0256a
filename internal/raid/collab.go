package raid

import (
	"context"
)

// Store persists session snapshots and terminal history records. A working
// snapshot is overwritten on every save; history records are append-only and
// never rewritten.
type Store interface {
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, raidID string) error
	LoadAll(ctx context.Context) ([]Session, error)
	AppendHistory(ctx context.Context, rec HistoryRecord) error
	Close() error
}

// AccountLinker resolves a participant identity to the linked game account
// consulted for capability checks.
type AccountLinker interface {
	LinkedAccount(ctx context.Context, userID string) (string, error)
}

// CapabilityChecker answers whether a game account currently holds a role.
// Implementations must return an error rather than hang when the backing
// service is unreachable.
type CapabilityChecker interface {
	HasRole(ctx context.Context, accountID, role string) (bool, error)
	OwnedOf(ctx context.Context, accountID string, roles []string) ([]string, error)
}

// DiscussionArtifacts are the handles created when a session is announced.
type DiscussionArtifacts struct {
	MessageID string
	ThreadID  string
}

// Presenter renders the session to the outside world. Calls happen at
// defined transition points; a Presenter returning ErrArtifactGone signals
// the artifact was already removed remotely.
type Presenter interface {
	CreateDiscussion(ctx context.Context, s Session) (DiscussionArtifacts, error)
	UpdatePanel(ctx context.Context, s Session) error
	NotifyConfirmation(ctx context.Context, s Session) error
	AnnounceStart(ctx context.Context, s Session) error
	CreateVoiceRoom(ctx context.Context, s Session) (string, error)
	DeleteVoiceRoom(ctx context.Context, channelID, voiceID string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	ArchiveDiscussion(ctx context.Context, threadID string) error
	PanelExists(ctx context.Context, channelID, messageID string) (bool, error)
}
