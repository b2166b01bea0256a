package raid

import (
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusRecruiting Status = "recruiting"
	StatusConfirming Status = "confirming"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

// PendingRole marks a member who joined but has not committed a role yet.
const PendingRole = "PENDING"

// Composition modes with special rules. Anything else names a concrete
// composition from the catalog.
const (
	ModeMeta       = "meta"
	ModeFree       = "free"
	ModeJuggernaut = "juggernaut"
)

// JuggernautPartySize overrides the boss party size in juggernaut mode.
const JuggernautPartySize = 3

var (
	ErrNotFound            = errors.New("raid not found")
	ErrConflict            = errors.New("conflict")
	ErrForbidden           = errors.New("forbidden")
	ErrExternalUnavailable = errors.New("external collaborator unavailable")

	// ErrArtifactGone is returned by presenters when the artifact was already
	// removed on the remote side. Teardown treats it as already cleaned up.
	ErrArtifactGone = errors.New("presentation artifact gone")
)

// Session is one raid-formation activity for a specific boss.
type Session struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Boss      string `json:"boss"`
	Comp      string `json:"comp"`
	Creator   string `json:"creator"`
	Status    Status `json:"status"`
	PartySize int    `json:"party_size"`

	// Members maps participant id to assigned role, or PendingRole while the
	// participant is still selecting. JoinOrder records insertion order so
	// leadership transfer is deterministic.
	Members   map[string]string `json:"members"`
	JoinOrder []string          `json:"join_order"`

	// AvailableRoles is the cached role set still assignable under the
	// current members and composition rules. Nil in unconstrained modes.
	AvailableRoles []string `json:"available_roles"`

	Strategy string `json:"strategy"`

	ThreadID       string `json:"thread_id,omitempty"`
	MessageID      string `json:"message_id,omitempty"`
	VoiceChannelID string `json:"voice_channel_id,omitempty"`
	InstanceNumber int    `json:"instance_number,omitempty"`

	Confirmed map[string]bool `json:"confirmed,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	ConfirmDeadline *time.Time `json:"confirm_deadline,omitempty"`

	// NeedsRebuild flags sessions restored from the store whose rendered
	// artifacts must be verified at startup. Never persisted.
	NeedsRebuild bool `json:"-"`
}

func (s Session) Clone() Session {
	out := s
	if s.Members != nil {
		out.Members = make(map[string]string, len(s.Members))
		for k, v := range s.Members {
			out.Members[k] = v
		}
	}
	if s.JoinOrder != nil {
		out.JoinOrder = append([]string(nil), s.JoinOrder...)
	}
	if s.AvailableRoles != nil {
		out.AvailableRoles = append([]string(nil), s.AvailableRoles...)
	}
	if s.Confirmed != nil {
		out.Confirmed = make(map[string]bool, len(s.Confirmed))
		for k, v := range s.Confirmed {
			out.Confirmed[k] = v
		}
	}
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.ConfirmDeadline != nil {
		t := *s.ConfirmDeadline
		out.ConfirmDeadline = &t
	}
	return out
}

func (s Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusCanceled
}

// Unconstrained reports whether the session runs without a composition role
// constraint.
func (s Session) Unconstrained() bool {
	return strings.EqualFold(s.Comp, ModeFree) || strings.EqualFold(s.Comp, ModeJuggernaut)
}

// AssignedRoles lists committed (non-pending) roles.
func (s Session) AssignedRoles() []string {
	out := make([]string, 0, len(s.Members))
	for _, role := range s.Members {
		if role != PendingRole {
			out = append(out, role)
		}
	}
	return out
}

// PendingCount is the number of members still selecting a role.
func (s Session) PendingCount() int {
	n := 0
	for _, role := range s.Members {
		if role == PendingRole {
			n++
		}
	}
	return n
}

func (s Session) ConfirmedCount() int {
	return len(s.Confirmed)
}

// HistoryRecord is the immutable terminal record appended alongside the
// working snapshot's deletion.
type HistoryRecord struct {
	ID      string    `json:"id"`
	RaidID  string    `json:"raid_id"`
	Status  Status    `json:"status"`
	Session Session   `json:"session"`
	EndedAt time.Time `json:"ended_at"`
}

type EventType string

const (
	EventRaidCreated           EventType = "raid_created"
	EventMemberJoined          EventType = "member_joined"
	EventRoleAssigned          EventType = "role_assigned"
	EventMemberLeft            EventType = "member_left"
	EventMemberKicked          EventType = "member_kicked"
	EventLeadershipTransferred EventType = "leadership_transferred"
	EventConfirmStarted        EventType = "confirm_started"
	EventAttendanceConfirmed   EventType = "attendance_confirmed"
	EventRaidStarted           EventType = "raid_started"
	EventRaidCompleted         EventType = "raid_completed"
	EventRaidCanceled          EventType = "raid_canceled"
)

// Event is what the presentation layer consumes to re-render its surfaces.
// Orchestration never depends on presentation types; the flow is one way.
type Event struct {
	Type      EventType `json:"type"`
	ChannelID string    `json:"channel_id"`
	RaidID    string    `json:"raid_id"`
	Boss      string    `json:"boss,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	Status    Status    `json:"status,omitempty"`
	Confirmed int       `json:"confirmed,omitempty"`
	PartySize int       `json:"party_size,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}
