package raid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/ultrahub-team/ultrahub/internal/accounts"
	"github.com/ultrahub-team/ultrahub/internal/catalog"
	"github.com/ultrahub-team/ultrahub/internal/observability"
)

const storeOpTimeout = 2 * time.Second

// Manager owns the session lifecycle: it validates participant commands,
// drives the state machine, and is the only writer of session state. Every
// command runs under the target session's registry lock.
type Manager struct {
	registry  *Registry
	catalog   *catalog.Catalog
	store     Store
	linker    AccountLinker
	caps      CapabilityChecker
	presenter Presenter
	metrics   *observability.Metrics

	confirmWindow time.Duration

	mu          sync.Mutex
	timers      map[string]*time.Timer
	subscribers map[string]map[int]chan Event
	nextSubID   int
}

func NewManager(
	registry *Registry,
	cat *catalog.Catalog,
	store Store,
	linker AccountLinker,
	caps CapabilityChecker,
	presenter Presenter,
	metrics *observability.Metrics,
	confirmWindow time.Duration,
) *Manager {
	if confirmWindow <= 0 {
		confirmWindow = 5 * time.Minute
	}
	return &Manager{
		registry:      registry,
		catalog:       cat,
		store:         store,
		linker:        linker,
		caps:          caps,
		presenter:     presenter,
		metrics:       metrics,
		confirmWindow: confirmWindow,
		timers:        make(map[string]*time.Timer),
		subscribers:   make(map[string]map[int]chan Event),
	}
}

// Subscribe returns a channel of events for one presentation channel and a
// cancel func. Slow consumers lose events rather than block commands.
func (m *Manager) Subscribe(channelID string) (<-chan Event, func()) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Event, 256)
	m.mu.Lock()
	m.nextSubID++
	id := m.nextSubID
	if _, ok := m.subscribers[channelID]; !ok {
		m.subscribers[channelID] = make(map[int]chan Event)
	}
	m.subscribers[channelID][id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.subscribers[channelID]
		if subs == nil {
			return
		}
		if c, ok := subs[id]; ok {
			delete(subs, id)
			close(c)
		}
		if len(subs) == 0 {
			delete(m.subscribers, channelID)
		}
	}
}

func (m *Manager) publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	m.mu.Lock()
	subs := m.subscribers[evt.ChannelID]
	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
	m.mu.Unlock()
}

// CreateRequest carries the parameters of a create command.
type CreateRequest struct {
	ChannelID string `json:"channel_id"`
	CreatorID string `json:"creator_id"`
	Boss      string `json:"boss"`
	Comp      string `json:"comp"`
	Role      string `json:"role"`
}

// Create opens a new session, renders its discussion artifacts and persists
// the first snapshot. The creator occupies the first slot with the given
// role.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (Session, error) {
	req.CreatorID = strings.TrimSpace(req.CreatorID)
	req.Boss = strings.TrimSpace(req.Boss)
	req.Comp = strings.TrimSpace(req.Comp)
	req.Role = strings.TrimSpace(req.Role)
	if req.CreatorID == "" || req.Boss == "" || req.Comp == "" || req.Role == "" {
		return Session{}, fmt.Errorf("%w: creator, boss, comp and role are required", ErrConflict)
	}

	boss, err := m.catalog.Boss(req.Boss)
	if err != nil {
		return Session{}, fmt.Errorf("%w: boss %q", ErrNotFound, req.Boss)
	}

	partySize := boss.PartySize
	strategy := ""
	switch {
	case strings.EqualFold(req.Comp, ModeMeta):
		if len(m.catalog.MetaClasses(boss.Name)) == 0 {
			return Session{}, fmt.Errorf("%w: boss %q has no compositions for meta mode", ErrNotFound, boss.Name)
		}
		strategy = "META mode: pick any role from the published compositions."
	case strings.EqualFold(req.Comp, ModeFree):
		strategy = "FREE mode: no role restrictions."
	case strings.EqualFold(req.Comp, ModeJuggernaut):
		partySize = JuggernautPartySize
		strategy = "JUGGERNAUT mode: three players only."
	default:
		found := false
		for _, comp := range m.catalog.Compositions(boss.Name) {
			if strings.EqualFold(comp.Name, req.Comp) {
				strategy = comp.Strategy
				found = true
				break
			}
		}
		if !found {
			return Session{}, fmt.Errorf("%w: composition %q for boss %q", ErrNotFound, req.Comp, boss.Name)
		}
	}
	if partySize < 1 {
		return Session{}, fmt.Errorf("%w: boss %q has no party slots", ErrConflict, boss.Name)
	}

	account, err := m.linkedAccount(ctx, req.CreatorID)
	if err != nil {
		return Session{}, err
	}

	now := time.Now().UTC()
	s := &Session{
		ChannelID: strings.TrimSpace(req.ChannelID),
		Boss:      boss.Name,
		Comp:      req.Comp,
		Creator:   req.CreatorID,
		Status:    StatusRecruiting,
		PartySize: partySize,
		Members:   map[string]string{req.CreatorID: PendingRole},
		JoinOrder: []string{req.CreatorID},
		Strategy:  strategy,
		CreatedAt: now,
	}
	if !roleAssignable(m.catalog, s, req.Role) {
		return Session{}, fmt.Errorf("%w: role %q is not valid for this composition", ErrConflict, req.Role)
	}
	if err := m.checkCapability(ctx, account, req.Role); err != nil {
		return Session{}, err
	}
	s.Members[req.CreatorID] = req.Role
	s.AvailableRoles = availableRoles(m.catalog, s)

	conflictsWith := func(other Session) bool {
		return other.Creator == req.CreatorID &&
			strings.EqualFold(other.Boss, boss.Name) &&
			(other.Status == StatusRecruiting || other.Status == StatusConfirming)
	}
	// Two creates by the same user in the same second collide on the
	// timestamp id even for different bosses; nudge the suffix instead of
	// reporting a live-raid conflict that does not exist.
	for attempt := 0; ; attempt++ {
		s.ID = fmt.Sprintf("%s-%d", req.CreatorID, now.Unix()+int64(attempt))
		err = m.registry.InsertUnique(s, conflictsWith)
		if err == nil {
			break
		}
		if !errors.Is(err, errDuplicateID) || attempt >= 5 {
			return Session{}, fmt.Errorf("%w: you already have a live raid for %s", ErrConflict, boss.Name)
		}
	}

	artifacts, err := m.presenter.CreateDiscussion(ctx, s.Clone())
	if err != nil {
		m.registry.Remove(s.ID)
		m.collabErr("presenter", err)
		return Session{}, fmt.Errorf("%w: create discussion: %v", ErrExternalUnavailable, err)
	}

	var out Session
	_ = m.registry.With(s.ID, func(live *Session) error {
		live.MessageID = artifacts.MessageID
		live.ThreadID = artifacts.ThreadID
		m.save(ctx, *live)
		out = live.Clone()
		return nil
	})

	m.metrics.SetActiveRaids(float64(m.registry.Len()))
	m.metrics.IncCommand("create", "ok")
	m.publish(Event{
		Type:      EventRaidCreated,
		ChannelID: out.ChannelID,
		RaidID:    out.ID,
		Boss:      out.Boss,
		UserID:    out.Creator,
		Role:      req.Role,
		Status:    out.Status,
		PartySize: out.PartySize,
	})
	return out, nil
}

// Join inserts the participant with the pending sentinel after verifying the
// account link and that at least one currently-available role is owned. The
// returned slice is the set of roles the participant may commit.
func (m *Manager) Join(ctx context.Context, raidID, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrConflict)
	}

	var offered []string
	var out Session
	err := m.registry.With(raidID, func(s *Session) error {
		if s.Status != StatusRecruiting {
			return fmt.Errorf("%w: raid is no longer recruiting", ErrConflict)
		}
		if _, ok := s.Members[userID]; ok {
			return fmt.Errorf("%w: already a member", ErrConflict)
		}
		if len(s.Members) >= s.PartySize {
			return fmt.Errorf("%w: raid is full", ErrConflict)
		}

		account, err := m.linkedAccount(ctx, userID)
		if err != nil {
			return err
		}
		owned, err := m.caps.OwnedOf(ctx, account, availableRoles(m.catalog, s))
		if err != nil {
			m.collabErr("inventory", err)
			return fmt.Errorf("%w: inventory lookup: %v", ErrExternalUnavailable, err)
		}
		if len(owned) == 0 {
			return fmt.Errorf("%w: none of the open roles is owned", ErrForbidden)
		}

		s.Members[userID] = PendingRole
		s.JoinOrder = append(s.JoinOrder, userID)
		m.save(ctx, *s)
		offered = owned
		out = s.Clone()
		return nil
	})
	if err != nil {
		m.metrics.IncCommand("join", outcomeOf(err))
		return nil, err
	}

	m.updatePanel(ctx, out)
	m.metrics.IncCommand("join", "ok")
	m.publish(Event{
		Type:      EventMemberJoined,
		ChannelID: out.ChannelID,
		RaidID:    out.ID,
		Boss:      out.Boss,
		UserID:    userID,
		Status:    out.Status,
		PartySize: out.PartySize,
	})
	return offered, nil
}

// AssignRole commits a role for a member. Re-assigning replaces the member's
// previous role (role swap). Filling the last slot moves the session to
// confirming.
func (m *Manager) AssignRole(ctx context.Context, raidID, userID, role string) error {
	userID = strings.TrimSpace(userID)
	role = strings.TrimSpace(role)
	if userID == "" || role == "" {
		return fmt.Errorf("%w: user id and role are required", ErrConflict)
	}

	var out Session
	confirming := false
	err := m.registry.With(raidID, func(s *Session) error {
		if s.Status != StatusRecruiting {
			return fmt.Errorf("%w: roles are locked outside recruiting", ErrConflict)
		}
		prev, ok := s.Members[userID]
		if !ok {
			return fmt.Errorf("%w: join the raid before selecting a role", ErrConflict)
		}

		// Validate against the set with the member's own previous role
		// withdrawn, so a swap to a nearby role inside the same composition
		// is allowed.
		s.Members[userID] = PendingRole
		assignable := roleAssignable(m.catalog, s, role)
		if !assignable {
			s.Members[userID] = prev
			return fmt.Errorf("%w: role %q is taken or no longer valid", ErrConflict, role)
		}

		account, err := m.linkedAccount(ctx, userID)
		if err != nil {
			s.Members[userID] = prev
			return err
		}
		if err := m.checkCapability(ctx, account, role); err != nil {
			s.Members[userID] = prev
			return err
		}

		s.Members[userID] = role
		s.AvailableRoles = availableRoles(m.catalog, s)
		if len(s.Members) == s.PartySize && s.PendingCount() == 0 {
			m.enterConfirmingLocked(ctx, s)
			confirming = true
		} else {
			m.save(ctx, *s)
		}
		out = s.Clone()
		return nil
	})
	if err != nil {
		m.metrics.IncCommand("assign_role", outcomeOf(err))
		return err
	}

	m.updatePanel(ctx, out)
	m.metrics.IncCommand("assign_role", "ok")
	m.publish(Event{
		Type:      EventRoleAssigned,
		ChannelID: out.ChannelID,
		RaidID:    out.ID,
		Boss:      out.Boss,
		UserID:    userID,
		Role:      role,
		Status:    out.Status,
		PartySize: out.PartySize,
	})
	if confirming {
		m.publish(Event{
			Type:      EventConfirmStarted,
			ChannelID: out.ChannelID,
			RaidID:    out.ID,
			Boss:      out.Boss,
			Status:    out.Status,
			PartySize: out.PartySize,
			Detail:    fmt.Sprintf("confirm within %s", m.confirmWindow),
		})
	}
	return nil
}

// Leave removes the participant. A departing leader hands leadership to the
// earliest-joined remaining member; a leader leaving an otherwise empty
// session cancels it.
func (m *Manager) Leave(ctx context.Context, raidID, userID string) error {
	userID = strings.TrimSpace(userID)

	var out Session
	var newLeader string
	canceled := false
	err := m.registry.With(raidID, func(s *Session) error {
		if _, ok := s.Members[userID]; !ok {
			return fmt.Errorf("%w: not a member of this raid", ErrConflict)
		}
		if s.Status == StatusConfirming || s.Status == StatusInProgress {
			return fmt.Errorf("%w: cannot leave during confirmation or progress", ErrConflict)
		}

		if userID == s.Creator {
			if len(s.Members) == 1 {
				m.finalizeLocked(ctx, s, StatusCanceled, "leader left an empty raid")
				canceled = true
				out = s.Clone()
				return nil
			}
			for _, id := range s.JoinOrder {
				if id != userID {
					newLeader = id
					break
				}
			}
			s.Creator = newLeader
		}

		removeMember(s, userID)
		s.AvailableRoles = availableRoles(m.catalog, s)
		m.save(ctx, *s)
		out = s.Clone()
		return nil
	})
	if err != nil {
		m.metrics.IncCommand("leave", outcomeOf(err))
		return err
	}

	if canceled {
		m.registry.Remove(out.ID)
		m.metrics.SetActiveRaids(float64(m.registry.Len()))
		m.metrics.IncCommand("leave", "ok")
		m.publish(Event{
			Type:      EventRaidCanceled,
			ChannelID: out.ChannelID,
			RaidID:    out.ID,
			Boss:      out.Boss,
			Status:    StatusCanceled,
			Detail:    "leader left an empty raid",
		})
		return nil
	}

	if newLeader != "" {
		m.publish(Event{
			Type:      EventLeadershipTransferred,
			ChannelID: out.ChannelID,
			RaidID:    out.ID,
			Boss:      out.Boss,
			UserID:    newLeader,
			Status:    out.Status,
			Detail:    fmt.Sprintf("leadership transferred from %s", userID),
		})
	}
	m.updatePanel(ctx, out)
	m.metrics.IncCommand("leave", "ok")
	m.publish(Event{
		Type:      EventMemberLeft,
		ChannelID: out.ChannelID,
		RaidID:    out.ID,
		Boss:      out.Boss,
		UserID:    userID,
		Status:    out.Status,
		PartySize: out.PartySize,
	})
	return nil
}

// Kick removes a member on the leader's behalf. Recruiting only.
func (m *Manager) Kick(ctx context.Context, raidID, creatorID, userID string) error {
	creatorID = strings.TrimSpace(creatorID)
	userID = strings.TrimSpace(userID)

	var out Session
	err := m.registry.With(raidID, func(s *Session) error {
		if creatorID != s.Creator {
			return fmt.Errorf("%w: only the leader can remove players", ErrForbidden)
		}
		if s.Status != StatusRecruiting {
			return fmt.Errorf("%w: members are locked outside recruiting", ErrConflict)
		}
		if userID == creatorID {
			return fmt.Errorf("%w: leaders leave instead of kicking themselves", ErrConflict)
		}
		if _, ok := s.Members[userID]; !ok {
			return fmt.Errorf("%w: %s is not a member", ErrConflict, userID)
		}

		removeMember(s, userID)
		s.AvailableRoles = availableRoles(m.catalog, s)
		m.save(ctx, *s)
		out = s.Clone()
		return nil
	})
	if err != nil {
		m.metrics.IncCommand("kick", outcomeOf(err))
		return err
	}

	m.updatePanel(ctx, out)
	m.metrics.IncCommand("kick", "ok")
	m.publish(Event{
		Type:      EventMemberKicked,
		ChannelID: out.ChannelID,
		RaidID:    out.ID,
		Boss:      out.Boss,
		UserID:    userID,
		Status:    out.Status,
		Detail:    fmt.Sprintf("removed by %s", creatorID),
	})
	return nil
}

// Get returns a snapshot of one session.
func (m *Manager) Get(raidID string) (Session, error) {
	return m.registry.Snapshot(raidID)
}

// Listing pairs a recruiting session with the roles a given user could still
// take in it.
type Listing struct {
	Session   Session  `json:"session"`
	OpenRoles []string `json:"open_roles"`
}

// List returns recruiting sessions for a boss that the user could join,
// based on currently owned roles.
func (m *Manager) List(ctx context.Context, bossName, userID string) ([]Listing, error) {
	account, err := m.linkedAccount(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []Listing
	for _, s := range m.registry.Snapshots() {
		if s.Status != StatusRecruiting || !strings.EqualFold(s.Boss, bossName) {
			continue
		}
		if _, member := s.Members[userID]; member {
			continue
		}
		if len(s.Members) >= s.PartySize {
			continue
		}
		available := s.AvailableRoles
		owned, err := m.caps.OwnedOf(ctx, account, available)
		if err != nil {
			m.collabErr("inventory", err)
			return nil, fmt.Errorf("%w: inventory lookup: %v", ErrExternalUnavailable, err)
		}
		if len(owned) == 0 {
			continue
		}
		out = append(out, Listing{Session: s, OpenRoles: owned})
	}
	return out, nil
}

func removeMember(s *Session, userID string) {
	delete(s.Members, userID)
	order := s.JoinOrder[:0]
	for _, id := range s.JoinOrder {
		if id != userID {
			order = append(order, id)
		}
	}
	s.JoinOrder = order
	if s.Confirmed != nil {
		delete(s.Confirmed, userID)
	}
}

func (m *Manager) linkedAccount(ctx context.Context, userID string) (string, error) {
	account, err := m.linker.LinkedAccount(ctx, userID)
	if err != nil {
		if errors.Is(err, accounts.ErrNotLinked) {
			return "", fmt.Errorf("%w: link your game account first", ErrForbidden)
		}
		m.collabErr("accounts", err)
		return "", fmt.Errorf("%w: account lookup: %v", ErrExternalUnavailable, err)
	}
	return account, nil
}

func (m *Manager) checkCapability(ctx context.Context, account, role string) error {
	ok, err := m.caps.HasRole(ctx, account, role)
	if err != nil {
		m.collabErr("inventory", err)
		return fmt.Errorf("%w: inventory lookup: %v", ErrExternalUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: role %q is not in your inventory", ErrForbidden, role)
	}
	return nil
}

func (m *Manager) save(ctx context.Context, s Session) {
	saveCtx, cancel := context.WithTimeout(withoutCancel(ctx), storeOpTimeout)
	defer cancel()
	if err := m.store.Save(saveCtx, s); err != nil {
		log.Printf("raid %s: save snapshot failed: %v", s.ID, err)
	}
}

func (m *Manager) updatePanel(ctx context.Context, s Session) {
	if err := m.presenter.UpdatePanel(ctx, s); err != nil && !errors.Is(err, ErrArtifactGone) {
		m.collabErr("presenter", err)
	}
}

func (m *Manager) collabErr(collaborator string, err error) {
	log.Printf("%s collaborator error: %v", collaborator, err)
	m.metrics.IncCollaboratorError(collaborator)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrExternalUnavailable):
		return "unavailable"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}

// withoutCancel detaches store writes from request cancellation; a client
// hanging up must not lose a snapshot that was already committed in memory.
func withoutCancel(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return context.WithoutCancel(ctx)
}
