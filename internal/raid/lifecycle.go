package raid

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
)

// enterConfirmingLocked moves a full session into the confirmation phase.
// Caller holds the session lock.
func (m *Manager) enterConfirmingLocked(ctx context.Context, s *Session) {
	s.Status = StatusConfirming
	deadline := time.Now().UTC().Add(m.confirmWindow)
	s.ConfirmDeadline = &deadline
	s.Confirmed = make(map[string]bool, s.PartySize)

	if err := m.presenter.NotifyConfirmation(ctx, s.Clone()); err != nil && !errors.Is(err, ErrArtifactGone) {
		m.collabErr("presenter", err)
	}
	m.save(ctx, *s)
	m.scheduleDeadline(s.ID, m.confirmWindow)
	m.metrics.IncTransition(string(StatusConfirming))
}

// Acknowledge records a member's attendance confirmation. Reaching quorum
// (every member confirmed) starts the session immediately; repeat
// acknowledgements are idempotent.
func (m *Manager) Acknowledge(ctx context.Context, raidID, userID string) (int, error) {
	userID = strings.TrimSpace(userID)

	var out Session
	count := 0
	started := false
	repeat := false
	err := m.registry.With(raidID, func(s *Session) error {
		if s.Status != StatusConfirming {
			return fmt.Errorf("%w: raid is not waiting for confirmations", ErrConflict)
		}
		if _, ok := s.Members[userID]; !ok {
			return fmt.Errorf("%w: not a member of this raid", ErrForbidden)
		}
		if s.Confirmed[userID] {
			count = s.ConfirmedCount()
			repeat = true
			return nil
		}

		s.Confirmed[userID] = true
		count = s.ConfirmedCount()
		if count >= s.PartySize {
			m.startLocked(ctx, s)
			started = true
		} else {
			m.save(ctx, *s)
		}
		out = s.Clone()
		return nil
	})
	if err != nil {
		m.metrics.IncCommand("acknowledge", outcomeOf(err))
		return 0, err
	}

	m.metrics.IncCommand("acknowledge", "ok")
	if repeat {
		// Nothing changed, so panel renderers get no event to re-fire on.
		return count, nil
	}
	m.publish(Event{
		Type:      EventAttendanceConfirmed,
		ChannelID: out.ChannelID,
		RaidID:    out.ID,
		Boss:      out.Boss,
		UserID:    userID,
		Status:    out.Status,
		Confirmed: count,
		PartySize: out.PartySize,
	})
	if started {
		m.publishStarted(out)
		m.provisionVoice(ctx, out.ID)
	}
	return count, nil
}

// startLocked flips a confirming session to in progress. Caller holds the
// session lock; voice provisioning happens afterwards, outside the lock.
func (m *Manager) startLocked(ctx context.Context, s *Session) {
	m.cancelDeadline(s.ID)
	now := time.Now().UTC()
	s.Status = StatusInProgress
	s.StartedAt = &now
	if s.InstanceNumber == 0 {
		s.InstanceNumber = 1000 + rand.IntN(99000)
	}
	m.observeConfirmationWait(s, now)

	if err := m.presenter.AnnounceStart(ctx, s.Clone()); err != nil && !errors.Is(err, ErrArtifactGone) {
		m.collabErr("presenter", err)
	}
	m.save(ctx, *s)
	m.metrics.IncTransition(string(StatusInProgress))
}

func (m *Manager) publishStarted(s Session) {
	m.publish(Event{
		Type:      EventRaidStarted,
		ChannelID: s.ChannelID,
		RaidID:    s.ID,
		Boss:      s.Boss,
		Status:    s.Status,
		PartySize: s.PartySize,
		Detail:    fmt.Sprintf("instance %d", s.InstanceNumber),
	})
}

// provisionVoice creates the voice room for a started session. The remote
// call runs without the session lock; the handle is committed under the lock
// afterwards, and torn down if the session ended in the meantime.
func (m *Manager) provisionVoice(ctx context.Context, raidID string) {
	snap, err := m.registry.Snapshot(raidID)
	if err != nil || snap.Status != StatusInProgress || snap.VoiceChannelID != "" {
		return
	}

	voiceID, err := m.presenter.CreateVoiceRoom(ctx, snap)
	if err != nil {
		m.collabErr("presenter", err)
		return
	}

	err = m.registry.With(raidID, func(s *Session) error {
		if s.Status != StatusInProgress {
			return fmt.Errorf("%w: raid ended during voice setup", ErrConflict)
		}
		s.VoiceChannelID = voiceID
		m.save(ctx, *s)
		return nil
	})
	if err != nil {
		// The session finished or vanished while the room was being created;
		// don't leak the channel.
		if derr := m.presenter.DeleteVoiceRoom(ctx, snap.ChannelID, voiceID); derr != nil && !errors.Is(derr, ErrArtifactGone) {
			m.collabErr("presenter", derr)
		}
	}
}

// Complete ends an in-progress session successfully. Leader only.
func (m *Manager) Complete(ctx context.Context, raidID, userID string) error {
	return m.end(ctx, raidID, userID, StatusCompleted)
}

// Cancel aborts a session in any live state. Leader only.
func (m *Manager) Cancel(ctx context.Context, raidID, userID string) error {
	return m.end(ctx, raidID, userID, StatusCanceled)
}

func (m *Manager) end(ctx context.Context, raidID, userID string, terminal Status) error {
	userID = strings.TrimSpace(userID)
	command := "complete"
	reason := "completed by leader"
	eventType := EventRaidCompleted
	if terminal == StatusCanceled {
		command = "cancel"
		reason = "canceled by leader"
		eventType = EventRaidCanceled
	}

	var out Session
	err := m.registry.With(raidID, func(s *Session) error {
		if userID != s.Creator {
			return fmt.Errorf("%w: only the leader can %s the raid", ErrForbidden, command)
		}
		if terminal == StatusCompleted && s.Status != StatusInProgress {
			return fmt.Errorf("%w: raid has not started", ErrConflict)
		}
		m.finalizeLocked(ctx, s, terminal, reason)
		out = s.Clone()
		return nil
	})
	if err != nil {
		m.metrics.IncCommand(command, outcomeOf(err))
		return err
	}

	m.registry.Remove(out.ID)
	m.metrics.SetActiveRaids(float64(m.registry.Len()))
	m.metrics.IncCommand(command, "ok")
	m.publish(Event{
		Type:      eventType,
		ChannelID: out.ChannelID,
		RaidID:    out.ID,
		Boss:      out.Boss,
		UserID:    userID,
		Status:    out.Status,
		Detail:    reason,
	})
	return nil
}

// finalizeLocked applies a terminal status, releases rendered artifacts and
// swaps the durable snapshot for a history record. Caller holds the session
// lock and removes the session from the registry afterwards. Idempotent.
//
// Teardown is best effort: a collaborator failure is logged and counted but
// never blocks the transition, and history append failure never blocks
// snapshot deletion.
func (m *Manager) finalizeLocked(ctx context.Context, s *Session, terminal Status, reason string) {
	if s.Terminal() {
		return
	}
	m.cancelDeadline(s.ID)
	now := time.Now().UTC()
	if s.Status == StatusConfirming {
		m.observeConfirmationWait(s, now)
	}
	s.Status = terminal

	if s.VoiceChannelID != "" {
		if err := m.presenter.DeleteVoiceRoom(ctx, s.ChannelID, s.VoiceChannelID); err != nil && !errors.Is(err, ErrArtifactGone) {
			m.collabErr("presenter", err)
		}
		s.VoiceChannelID = ""
	}
	if s.MessageID != "" {
		if err := m.presenter.DeleteMessage(ctx, s.ChannelID, s.MessageID); err != nil && !errors.Is(err, ErrArtifactGone) {
			m.collabErr("presenter", err)
		}
	}
	if s.ThreadID != "" {
		if err := m.presenter.ArchiveDiscussion(ctx, s.ThreadID); err != nil && !errors.Is(err, ErrArtifactGone) {
			m.collabErr("presenter", err)
		}
	}

	opCtx, cancel := context.WithTimeout(withoutCancel(ctx), storeOpTimeout)
	defer cancel()
	if err := m.store.Delete(opCtx, s.ID); err != nil {
		log.Printf("raid %s: delete snapshot failed: %v", s.ID, err)
	}
	rec := HistoryRecord{
		ID:      uuid.NewString(),
		RaidID:  s.ID,
		Status:  terminal,
		Session: s.Clone(),
		EndedAt: now,
	}
	if err := m.store.AppendHistory(opCtx, rec); err != nil {
		log.Printf("raid %s: append history failed: %v", s.ID, err)
	}

	log.Printf("raid %s: %s (%s)", s.ID, terminal, reason)
	m.metrics.IncTransition(string(terminal))
}

func (m *Manager) observeConfirmationWait(s *Session, now time.Time) {
	if s.ConfirmDeadline == nil {
		return
	}
	opened := s.ConfirmDeadline.Add(-m.confirmWindow)
	if wait := now.Sub(opened); wait > 0 {
		m.metrics.ObserveConfirmationWait(wait.Seconds())
	}
}

// Load restores persisted sessions into the registry at startup. Sessions in
// pre-start states are flagged for artifact verification by Reconcile;
// confirmation timers resume with their remaining time.
func (m *Manager) Load(ctx context.Context) error {
	sessions, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	now := time.Now().UTC()
	restored := 0
	for _, loaded := range sessions {
		s := loaded.Clone()
		if s.Terminal() {
			continue
		}
		if s.Members == nil {
			s.Members = make(map[string]string)
		}
		// An empty confirmation set round-trips through the store as nil.
		if s.Status == StatusConfirming && s.Confirmed == nil {
			s.Confirmed = make(map[string]bool, s.PartySize)
		}
		s.NeedsRebuild = s.Status == StatusRecruiting || s.Status == StatusConfirming
		sp := &s
		if err := m.registry.InsertUnique(sp, nil); err != nil {
			log.Printf("raid %s: skipped on load: %v", s.ID, err)
			continue
		}
		restored++
		if s.Status == StatusConfirming && s.ConfirmDeadline != nil {
			remaining := s.ConfirmDeadline.Sub(now)
			if remaining < time.Second {
				remaining = time.Second
			}
			m.scheduleDeadline(s.ID, remaining)
		}
	}
	m.metrics.SetActiveRaids(float64(m.registry.Len()))
	log.Printf("restored %d live raid(s)", restored)
	return nil
}

// Reconcile verifies the rendered artifacts of restored sessions. A session
// whose panel no longer exists is torn down as already cleaned up; survivors
// get their panel re-rendered.
func (m *Manager) Reconcile(ctx context.Context) {
	for _, snap := range m.registry.Snapshots() {
		if !snap.NeedsRebuild {
			continue
		}

		alive := true
		if snap.MessageID != "" {
			exists, err := m.presenter.PanelExists(ctx, snap.ChannelID, snap.MessageID)
			switch {
			case errors.Is(err, ErrArtifactGone):
				alive = false
			case err != nil:
				m.collabErr("presenter", err)
				continue // verify again next startup
			default:
				alive = exists
			}
		}

		if !alive {
			var out Session
			err := m.registry.With(snap.ID, func(s *Session) error {
				s.MessageID = ""
				m.finalizeLocked(ctx, s, StatusCanceled, "presentation artifacts missing after restart")
				out = s.Clone()
				return nil
			})
			if err == nil {
				m.registry.Remove(out.ID)
				m.publish(Event{
					Type:      EventRaidCanceled,
					ChannelID: out.ChannelID,
					RaidID:    out.ID,
					Boss:      out.Boss,
					Status:    StatusCanceled,
					Detail:    "presentation artifacts missing after restart",
				})
			}
			continue
		}

		var survivor Session
		err := m.registry.With(snap.ID, func(s *Session) error {
			s.NeedsRebuild = false
			survivor = s.Clone()
			return nil
		})
		if err == nil {
			m.updatePanel(ctx, survivor)
		}
	}
	m.metrics.SetActiveRaids(float64(m.registry.Len()))
}
