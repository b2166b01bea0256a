// Package presentation renders sessions to the chat surface. The Gateway
// talks to a bot-gateway HTTP sidecar; the in-memory presenter backs local
// runs and tests.
package presentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ultrahub-team/ultrahub/internal/raid"
)

// Gateway implements raid.Presenter against the bot gateway's HTTP API. A
// 404 or 410 from the gateway maps to raid.ErrArtifactGone so teardown can
// treat remotely-removed artifacts as already cleaned up.
type Gateway struct {
	baseURL string
	client  *http.Client
}

func NewGateway(baseURL string) *Gateway {
	return &Gateway{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type panelPayload struct {
	RaidID     string            `json:"raid_id"`
	ChannelID  string            `json:"channel_id"`
	Boss       string            `json:"boss"`
	Comp       string            `json:"comp"`
	Creator    string            `json:"creator"`
	Status     raid.Status       `json:"status"`
	PartySize  int               `json:"party_size"`
	Members    map[string]string `json:"members"`
	JoinOrder  []string          `json:"join_order"`
	OpenRoles  []string          `json:"open_roles"`
	Strategy   string            `json:"strategy"`
	Instance   int               `json:"instance,omitempty"`
	Confirmed  int               `json:"confirmed,omitempty"`
	DeadlineAt *time.Time        `json:"deadline_at,omitempty"`
	MessageID  string            `json:"message_id,omitempty"`
	ThreadID   string            `json:"thread_id,omitempty"`
}

func payloadFor(s raid.Session) panelPayload {
	return panelPayload{
		RaidID:     s.ID,
		ChannelID:  s.ChannelID,
		Boss:       s.Boss,
		Comp:       s.Comp,
		Creator:    s.Creator,
		Status:     s.Status,
		PartySize:  s.PartySize,
		Members:    s.Members,
		JoinOrder:  s.JoinOrder,
		OpenRoles:  s.AvailableRoles,
		Strategy:   s.Strategy,
		Instance:   s.InstanceNumber,
		Confirmed:  s.ConfirmedCount(),
		DeadlineAt: s.ConfirmDeadline,
		MessageID:  s.MessageID,
		ThreadID:   s.ThreadID,
	}
}

func (g *Gateway) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return raid.ErrArtifactGone
	case res.StatusCode < 200 || res.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("gateway status %d: %s", res.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (g *Gateway) CreateDiscussion(ctx context.Context, s raid.Session) (raid.DiscussionArtifacts, error) {
	var res struct {
		MessageID string `json:"message_id"`
		ThreadID  string `json:"thread_id"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/discussions", payloadFor(s), &res); err != nil {
		return raid.DiscussionArtifacts{}, err
	}
	return raid.DiscussionArtifacts{MessageID: res.MessageID, ThreadID: res.ThreadID}, nil
}

func (g *Gateway) UpdatePanel(ctx context.Context, s raid.Session) error {
	path := fmt.Sprintf("/v1/channels/%s/messages/%s", s.ChannelID, s.MessageID)
	return g.do(ctx, http.MethodPut, path, payloadFor(s), nil)
}

func (g *Gateway) NotifyConfirmation(ctx context.Context, s raid.Session) error {
	path := fmt.Sprintf("/v1/threads/%s/confirmation", s.ThreadID)
	return g.do(ctx, http.MethodPost, path, payloadFor(s), nil)
}

func (g *Gateway) AnnounceStart(ctx context.Context, s raid.Session) error {
	path := fmt.Sprintf("/v1/threads/%s/start", s.ThreadID)
	return g.do(ctx, http.MethodPost, path, payloadFor(s), nil)
}

func (g *Gateway) CreateVoiceRoom(ctx context.Context, s raid.Session) (string, error) {
	in := struct {
		ChannelID string   `json:"channel_id"`
		Name      string   `json:"name"`
		UserLimit int      `json:"user_limit"`
		Members   []string `json:"members"`
	}{
		ChannelID: s.ChannelID,
		Name:      fmt.Sprintf("%s #%d", s.Boss, s.InstanceNumber),
		UserLimit: s.PartySize,
		Members:   s.JoinOrder,
	}
	var res struct {
		VoiceChannelID string `json:"voice_channel_id"`
	}
	if err := g.do(ctx, http.MethodPost, "/v1/voice-rooms", in, &res); err != nil {
		return "", err
	}
	return res.VoiceChannelID, nil
}

func (g *Gateway) DeleteVoiceRoom(ctx context.Context, channelID, voiceID string) error {
	return g.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/voice-rooms/%s", voiceID), nil, nil)
}

func (g *Gateway) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	return g.do(ctx, http.MethodDelete, fmt.Sprintf("/v1/channels/%s/messages/%s", channelID, messageID), nil, nil)
}

func (g *Gateway) ArchiveDiscussion(ctx context.Context, threadID string) error {
	return g.do(ctx, http.MethodPost, fmt.Sprintf("/v1/threads/%s/archive", threadID), nil, nil)
}

func (g *Gateway) PanelExists(ctx context.Context, channelID, messageID string) (bool, error) {
	err := g.do(ctx, http.MethodGet, fmt.Sprintf("/v1/channels/%s/messages/%s", channelID, messageID), nil, nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, raid.ErrArtifactGone):
		return false, nil
	default:
		return false, err
	}
}
