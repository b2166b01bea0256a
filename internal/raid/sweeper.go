package raid

import (
	"context"
	"fmt"
	"log"
	"time"
)

// StartSweeper launches the background loop that cancels stale sessions.
// Recruiting sessions age from creation, in-progress ones from their start;
// confirming sessions are excluded because their own deadline timer resolves
// them. The loop stops when ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval, threshold time.Duration) {
	if interval <= 0 || threshold <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.sweepOnce(ctx, threshold)
			}
		}
	}()
}

func (m *Manager) sweepOnce(ctx context.Context, threshold time.Duration) {
	now := time.Now().UTC()
	swept := 0
	for _, id := range m.registry.IDs() {
		var out Session
		stale := false
		err := m.registry.With(id, func(s *Session) error {
			if s.Status != StatusRecruiting && s.Status != StatusInProgress {
				return nil
			}
			ref := s.CreatedAt
			if s.StartedAt != nil && s.StartedAt.After(ref) {
				ref = *s.StartedAt
			}
			if now.Sub(ref) < threshold {
				return nil
			}
			m.finalizeLocked(ctx, s, StatusCanceled,
				fmt.Sprintf("inactive for more than %s", threshold))
			stale = true
			out = s.Clone()
			return nil
		})
		if err != nil || !stale {
			continue
		}

		m.registry.Remove(out.ID)
		swept++
		m.publish(Event{
			Type:      EventRaidCanceled,
			ChannelID: out.ChannelID,
			RaidID:    out.ID,
			Boss:      out.Boss,
			Status:    StatusCanceled,
			Detail:    "canceled for inactivity",
		})
	}
	if swept > 0 {
		m.metrics.SetActiveRaids(float64(m.registry.Len()))
		log.Printf("sweeper canceled %d stale raid(s)", swept)
	}
}
