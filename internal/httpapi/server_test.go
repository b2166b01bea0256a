package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ultrahub-team/ultrahub/internal/catalog"
	"github.com/ultrahub-team/ultrahub/internal/config"
	"github.com/ultrahub-team/ultrahub/internal/presentation"
	"github.com/ultrahub-team/ultrahub/internal/raid"
)

type stubStore struct {
	mu    sync.Mutex
	saved map[string]raid.Session
}

func (s *stubStore) Save(_ context.Context, sess raid.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[sess.ID] = sess
	return nil
}

func (s *stubStore) Delete(_ context.Context, raidID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, raidID)
	return nil
}

func (s *stubStore) LoadAll(_ context.Context) ([]raid.Session, error) { return nil, nil }

func (s *stubStore) AppendHistory(_ context.Context, _ raid.HistoryRecord) error { return nil }

func (s *stubStore) Close() error { return nil }

type stubLinker struct{}

func (stubLinker) LinkedAccount(_ context.Context, userID string) (string, error) {
	return "acct-" + userID, nil
}

type stubCaps struct {
	owned map[string][]string
}

func (c stubCaps) HasRole(_ context.Context, accountID, role string) (bool, error) {
	for _, have := range c.owned[accountID] {
		if have == role {
			return true, nil
		}
	}
	return false, nil
}

func (c stubCaps) OwnedOf(_ context.Context, accountID string, wanted []string) ([]string, error) {
	owned := c.owned[accountID]
	if wanted == nil {
		return owned, nil
	}
	out := make([]string, 0, len(wanted))
	for _, role := range wanted {
		for _, have := range owned {
			if have == role {
				out = append(out, role)
				break
			}
		}
	}
	return out, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	bossFile := filepath.Join(dir, "ultra-bosses.json")
	bosses := `{"Nulgath": {"difficulty": "ultra", "map": "tercessuinotlim", "party_size": 2, "hide": false}}`
	if err := os.WriteFile(bossFile, []byte(bosses), 0o644); err != nil {
		t.Fatalf("write boss file: %v", err)
	}
	compsDir := filepath.Join(dir, "comps")
	if err := os.MkdirAll(compsDir, 0o755); err != nil {
		t.Fatalf("create comps dir: %v", err)
	}
	comps := `[{"name": "Duo", "classes": ["Healer", "Tank"], "strategy": "stay alive"}]`
	if err := os.WriteFile(filepath.Join(compsDir, "Nulgath.json"), []byte(comps), 0o644); err != nil {
		t.Fatalf("write comp file: %v", err)
	}
	cat, err := catalog.Load(bossFile, compsDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	store := &stubStore{saved: make(map[string]raid.Session)}
	caps := stubCaps{owned: map[string][]string{
		"acct-u1": {"Healer"},
		"acct-u2": {"Tank"},
	}}
	manager := raid.NewManager(
		raid.NewRegistry(), cat, store, stubLinker{}, caps,
		presentation.NewInMemory(), nil, time.Hour,
	)
	t.Cleanup(manager.StopTimers)

	cfg := config.Config{RaidChannelID: "chan-1"}
	return New(cfg, manager, cat, nil)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func createRaid(t *testing.T, h http.Handler) raid.Session {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/v1/raids", raid.CreateRequest{
		CreatorID: "u1",
		Boss:      "Nulgath",
		Comp:      "meta",
		Role:      "Healer",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var sess raid.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return sess
}

func TestHealthAndReady(t *testing.T) {
	h := testServer(t).Router()
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := doJSON(t, h, http.MethodGet, path, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestCreateAndGetRaid(t *testing.T) {
	h := testServer(t).Router()
	sess := createRaid(t, h)

	if sess.ChannelID != "chan-1" {
		t.Fatalf("ChannelID = %q, want the configured default", sess.ChannelID)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/raids/"+sess.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", rec.Code)
	}
	var got raid.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got.ID != sess.ID || got.Status != raid.StatusRecruiting {
		t.Fatalf("got = %+v, want the created recruiting session", got)
	}
}

func TestGetUnknownRaidIs404(t *testing.T) {
	h := testServer(t).Router()
	rec := doJSON(t, h, http.MethodGet, "/v1/raids/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestDuplicateCreateIs409(t *testing.T) {
	h := testServer(t).Router()
	createRaid(t, h)

	rec := doJSON(t, h, http.MethodPost, "/v1/raids", raid.CreateRequest{
		CreatorID: "u1", Boss: "Nulgath", Comp: "meta", Role: "Healer",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestCreateWithUnownedRoleIs403(t *testing.T) {
	h := testServer(t).Router()
	rec := doJSON(t, h, http.MethodPost, "/v1/raids", raid.CreateRequest{
		CreatorID: "u1", Boss: "Nulgath", Comp: "meta", Role: "Tank",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 (body %s)", rec.Code, rec.Body.String())
	}
}

func TestJoinAssignAndAcknowledgeFlow(t *testing.T) {
	h := testServer(t).Router()
	sess := createRaid(t, h)
	base := "/v1/raids/" + sess.ID

	rec := doJSON(t, h, http.MethodPost, base+"/join", map[string]string{"user_id": "u2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("join status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var joined struct {
		OfferedRoles []string `json:"offered_roles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &joined); err != nil {
		t.Fatalf("decode join response: %v", err)
	}
	if len(joined.OfferedRoles) != 1 || joined.OfferedRoles[0] != "Tank" {
		t.Fatalf("offered_roles = %v, want [Tank]", joined.OfferedRoles)
	}

	rec = doJSON(t, h, http.MethodPost, base+"/role", map[string]string{"user_id": "u2", "role": "Tank"})
	if rec.Code != http.StatusOK {
		t.Fatalf("role status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Party of two is now full and confirming; both acknowledge.
	for _, user := range []string{"u1", "u2"} {
		rec = doJSON(t, h, http.MethodPost, base+"/ack", map[string]string{"user_id": user})
		if rec.Code != http.StatusOK {
			t.Fatalf("ack(%s) status = %d, body = %s", user, rec.Code, rec.Body.String())
		}
	}

	rec = doJSON(t, h, http.MethodGet, base, nil)
	var got raid.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if got.Status != raid.StatusInProgress {
		t.Fatalf("Status = %q, want %q", got.Status, raid.StatusInProgress)
	}
}

func TestAckOutsideConfirmingIs409(t *testing.T) {
	h := testServer(t).Router()
	sess := createRaid(t, h)

	rec := doJSON(t, h, http.MethodPost, "/v1/raids/"+sess.ID+"/ack", map[string]string{"user_id": "u1"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestListBossesHidesHiddenOnes(t *testing.T) {
	h := testServer(t).Router()
	rec := doJSON(t, h, http.MethodGet, "/v1/bosses", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Bosses []catalog.Boss `json:"bosses"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Bosses) != 1 || body.Bosses[0].Name != "Nulgath" {
		t.Fatalf("bosses = %+v, want [Nulgath]", body.Bosses)
	}
}

func TestListCompsForUnknownBossIs404(t *testing.T) {
	h := testServer(t).Router()
	rec := doJSON(t, h, http.MethodGet, "/v1/bosses/Drakath/comps", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListRaidsRequiresQueryParams(t *testing.T) {
	h := testServer(t).Router()
	rec := doJSON(t, h, http.MethodGet, "/v1/raids", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	createRaid(t, h)
	rec = doJSON(t, h, http.MethodGet, "/v1/raids?boss=Nulgath&user_id=u2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Raids []raid.Listing `json:"raids"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Raids) != 1 {
		t.Fatalf("raids = %+v, want one listing", body.Raids)
	}
}
