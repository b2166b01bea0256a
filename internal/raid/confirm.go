package raid

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// scheduleDeadline arms the confirmation timer for a session. An existing
// timer is replaced.
func (m *Manager) scheduleDeadline(raidID string, d time.Duration) {
	m.mu.Lock()
	if t, ok := m.timers[raidID]; ok {
		t.Stop()
	}
	m.timers[raidID] = time.AfterFunc(d, func() {
		m.onConfirmDeadline(context.Background(), raidID)
	})
	m.mu.Unlock()
}

func (m *Manager) cancelDeadline(raidID string) {
	m.mu.Lock()
	if t, ok := m.timers[raidID]; ok {
		t.Stop()
		delete(m.timers, raidID)
	}
	m.mu.Unlock()
}

// StopTimers stops all pending confirmation timers. Shutdown only; sessions
// stay persisted and resume their windows on the next start.
func (m *Manager) StopTimers() {
	m.mu.Lock()
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	m.mu.Unlock()
}

// onConfirmDeadline resolves a session whose confirmation window elapsed. If
// quorum was reached concurrently with the deadline the session starts;
// otherwise it is canceled. A session that already moved on is left alone.
func (m *Manager) onConfirmDeadline(ctx context.Context, raidID string) {
	m.mu.Lock()
	delete(m.timers, raidID)
	m.mu.Unlock()

	var out Session
	started := false
	err := m.registry.With(raidID, func(s *Session) error {
		if s.Status != StatusConfirming {
			return errors.New("window already resolved")
		}
		if s.ConfirmedCount() >= s.PartySize {
			m.startLocked(ctx, s)
			started = true
			out = s.Clone()
			return nil
		}
		m.finalizeLocked(ctx, s, StatusCanceled,
			fmt.Sprintf("only %d/%d confirmed in time", s.ConfirmedCount(), s.PartySize))
		out = s.Clone()
		return nil
	})
	if err != nil {
		return
	}

	if started {
		m.publishStarted(out)
		m.provisionVoice(ctx, out.ID)
		return
	}

	m.registry.Remove(out.ID)
	m.metrics.SetActiveRaids(float64(m.registry.Len()))
	m.publish(Event{
		Type:      EventRaidCanceled,
		ChannelID: out.ChannelID,
		RaidID:    out.ID,
		Boss:      out.Boss,
		Status:    StatusCanceled,
		Confirmed: out.ConfirmedCount(),
		PartySize: out.PartySize,
		Detail:    "confirmation window elapsed",
	})
}
