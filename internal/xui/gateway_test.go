package xui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gothik99/botweb/internal/settings"
)

// fakePanel emulates the panel API surface the gateway touches: login,
// status probe, inbound fetch and the three client mutations.
type fakePanel struct {
	mu      sync.Mutex
	clients []Client

	failAdds   int    // fail this many addClient calls
	addFailMsg string // message returned on a forced failure
	loginFails bool
}

func (p *fakePanel) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		if p.loginFails {
			writeEnvelope(w, false, "invalid credentials", nil)
			return
		}
		writeEnvelope(w, true, "", nil)
	})

	mux.HandleFunc("/server/status", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, true, "", map[string]interface{}{"cpu": 1.5, "uptime": 100})
	})

	mux.HandleFunc("/panel/api/inbounds/get/", func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		blob, _ := json.Marshal(inboundSettings{Clients: p.clients})
		p.mu.Unlock()
		writeEnvelope(w, true, "", Inbound{
			ID:             1,
			Remark:         "test",
			Enable:         true,
			Settings:       string(blob),
			StreamSettings: `{"security":"reality"}`,
		})
	})

	mux.HandleFunc("/panel/api/inbounds/addClient", func(w http.ResponseWriter, r *http.Request) {
		var req addClientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEnvelope(w, false, "bad request", nil)
			return
		}
		var s inboundSettings
		if err := json.Unmarshal([]byte(req.Settings), &s); err != nil {
			writeEnvelope(w, false, "bad settings", nil)
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.failAdds > 0 {
			p.failAdds--
			writeEnvelope(w, false, p.addFailMsg, nil)
			return
		}
		for _, c := range s.Clients {
			for _, have := range p.clients {
				if have.Email == c.Email {
					writeEnvelope(w, false, fmt.Sprintf("email %s already exists", c.Email), nil)
					return
				}
			}
			p.clients = append(p.clients, c)
		}
		writeEnvelope(w, true, "", nil)
	})

	mux.HandleFunc("/panel/api/inbounds/updateClient/", func(w http.ResponseWriter, r *http.Request) {
		clientUUID := strings.TrimPrefix(r.URL.Path, "/panel/api/inbounds/updateClient/")
		var req addClientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeEnvelope(w, false, "bad request", nil)
			return
		}
		var s inboundSettings
		if err := json.Unmarshal([]byte(req.Settings), &s); err != nil || len(s.Clients) != 1 {
			writeEnvelope(w, false, "bad settings", nil)
			return
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		for i := range p.clients {
			if p.clients[i].ID == clientUUID {
				p.clients[i] = s.Clients[0]
				writeEnvelope(w, true, "", nil)
				return
			}
		}
		writeEnvelope(w, false, "client not found", nil)
	})

	mux.HandleFunc("/panel/api/inbounds/", func(w http.ResponseWriter, r *http.Request) {
		// Matches /panel/api/inbounds/{id}/delClient/{uuid}.
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 6 || parts[4] != "delClient" {
			http.NotFound(w, r)
			return
		}
		clientUUID := parts[5]
		p.mu.Lock()
		defer p.mu.Unlock()
		for i := range p.clients {
			if p.clients[i].ID == clientUUID {
				p.clients = append(p.clients[:i], p.clients[i+1:]...)
				writeEnvelope(w, true, "", nil)
				return
			}
		}
		writeEnvelope(w, false, "client not found", nil)
	})

	return mux
}

func writeEnvelope(w http.ResponseWriter, success bool, msg string, obj interface{}) {
	w.Header().Set("Content-Type", "application/json")
	var raw json.RawMessage
	if obj != nil {
		raw, _ = json.Marshal(obj)
	}
	_ = json.NewEncoder(w).Encode(apiResponse{Success: success, Msg: msg, Obj: raw})
}

func (p *fakePanel) find(uuid string) *Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.clients {
		if p.clients[i].ID == uuid {
			c := p.clients[i]
			return &c
		}
	}
	return nil
}

func testNodeFor(srv *httptest.Server) settings.Node {
	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return settings.Node{
		ID:             1,
		Name:           "test-node",
		URL:            "http://" + u.Hostname(),
		Port:           port,
		Username:       "admin",
		Password:       "admin",
		InboundID:      1,
		DefaultLimitIP: 2,
	}
}

func newTestGateway() *Gateway {
	return NewGateway(func() string { return "vpn.test" }, zerolog.Nop())
}

func TestCreateProvisionsClient(t *testing.T) {
	panel := &fakePanel{}
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	node := testNodeFor(srv)

	before := time.Now().UTC()
	cred, err := gw.Create(context.Background(), node, 123456, 30, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if cred.UUID == "" {
		t.Fatal("expected non-empty uuid")
	}
	if !strings.HasPrefix(cred.Email, "tg123456_") || !strings.HasSuffix(cred.Email, "@vpn.test") {
		t.Fatalf("unexpected alias %q", cred.Email)
	}

	want := before.Add(30 * 24 * time.Hour)
	if diff := cred.Expiry.Sub(want); diff < 0 || diff > time.Minute {
		t.Fatalf("expiry %v not ~30 days from now", cred.Expiry)
	}

	stored := panel.find(cred.UUID)
	if stored == nil {
		t.Fatal("client not stored on panel")
	}
	if !stored.Enable {
		t.Error("stored client not enabled")
	}
	if stored.LimitIP != 2 {
		t.Errorf("LimitIP = %d, want node default 2", stored.LimitIP)
	}
	if stored.Flow != "xtls-rprx-vision" {
		t.Errorf("Flow = %q, want reality default", stored.Flow)
	}
	if stored.SubID != cred.UUID {
		t.Errorf("SubID = %q, want client uuid", stored.SubID)
	}
}

func TestCreateDuplicateAlias(t *testing.T) {
	panel := &fakePanel{failAdds: 1, addFailMsg: "email already exists"}
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	_, err := gw.Create(context.Background(), testNodeFor(srv), 1, 30, 0)
	if !errors.Is(err, ErrDuplicateClient) {
		t.Fatalf("err = %v, want ErrDuplicateClient", err)
	}
	if panel.failAdds != 0 {
		t.Error("duplicate answer must not be retried")
	}
}

func TestCreateRetriesTransientFailure(t *testing.T) {
	panel := &fakePanel{failAdds: 1, addFailMsg: "database is locked"}
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	cred, err := gw.Create(context.Background(), testNodeFor(srv), 7, 30, 1)
	if err != nil {
		t.Fatalf("Create after retry: %v", err)
	}
	if panel.find(cred.UUID) == nil {
		t.Fatal("client not stored after retry")
	}
}

func TestCreateExhaustsRetries(t *testing.T) {
	panel := &fakePanel{failAdds: addRetries, addFailMsg: "database is locked"}
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	if _, err := gw.Create(context.Background(), testNodeFor(srv), 7, 30, 1); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestUpdateExtendsFromFutureHint(t *testing.T) {
	hint := time.Now().UTC().Add(10 * 24 * time.Hour).Truncate(time.Millisecond)
	panel := &fakePanel{clients: []Client{{
		ID: "uuid-1", Email: "tg1_abc@vpn.test", Enable: true,
		ExpiryTime: timeToMs(hint), LimitIP: 3, SubID: "uuid-1",
	}}}
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	cred, err := gw.Update(context.Background(), testNodeFor(srv), "uuid-1", "tg1_abc@vpn.test", 30, &hint, 0)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	want := hint.Add(30 * 24 * time.Hour)
	if !cred.Expiry.Equal(want) {
		t.Fatalf("expiry = %v, want hint+30d = %v", cred.Expiry, want)
	}
	stored := panel.find("uuid-1")
	if stored.ExpiryTime != timeToMs(want) {
		t.Errorf("stored expiry %d, want %d", stored.ExpiryTime, timeToMs(want))
	}
	if stored.LimitIP != 3 {
		t.Errorf("LimitIP = %d, want preserved 3", stored.LimitIP)
	}
}

func TestUpdateRestartsFromNowWhenExpired(t *testing.T) {
	hint := time.Now().UTC().Add(-5 * 24 * time.Hour)
	panel := &fakePanel{clients: []Client{{
		ID: "uuid-1", Email: "tg1_abc@vpn.test", Enable: true,
		ExpiryTime: timeToMs(hint), SubID: "uuid-1",
	}}}
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	before := time.Now().UTC()
	cred, err := gw.Update(context.Background(), testNodeFor(srv), "uuid-1", "tg1_abc@vpn.test", 30, &hint, 0)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	want := before.Add(30 * 24 * time.Hour)
	if diff := cred.Expiry.Sub(want); diff < 0 || diff > time.Minute {
		t.Fatalf("expiry %v not ~30 days from now", cred.Expiry)
	}
}

func TestUpdateRecreatesMissingClient(t *testing.T) {
	panel := &fakePanel{} // credential vanished from the panel
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	hint := time.Now().UTC().Add(3 * 24 * time.Hour)
	cred, err := gw.Update(context.Background(), testNodeFor(srv), "uuid-gone", "tg9_xyz@vpn.test", 30, &hint, 0)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if cred.UUID != "uuid-gone" {
		t.Errorf("uuid = %q, recreation must keep the recorded uuid", cred.UUID)
	}
	if cred.Email != "tg9_xyz@vpn.test" {
		t.Errorf("email = %q, recreation must keep the recorded alias", cred.Email)
	}
	stored := panel.find("uuid-gone")
	if stored == nil {
		t.Fatal("client not restored on panel")
	}
	want := hint.Add(30 * 24 * time.Hour)
	if stored.ExpiryTime != timeToMs(want) {
		t.Errorf("stored expiry %d, want %d", stored.ExpiryTime, timeToMs(want))
	}
}

func TestRecreateToleratesAliasRace(t *testing.T) {
	// Another writer restored the alias between the inbound fetch and
	// the add call. The add answers "already exists"; the re-fetch then
	// finds the row and recreation counts as success.
	panel := &fakePanel{
		failAdds:   1,
		addFailMsg: "email already exists",
		clients: []Client{{
			ID: "uuid-1", Email: "tg1_abc@vpn.test", Enable: true, SubID: "uuid-1",
		}},
	}
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	node := testNodeFor(srv)
	pc := newPanelClient(node.APIBase(), node.Username, node.Password)
	if err := pc.login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}

	stale := &Inbound{ID: 1, Settings: `{"clients":[]}`} // fetched before the race
	got, err := gw.recreate(context.Background(), pc, node, stale, "uuid-1", "tg1_abc@vpn.test",
		time.Now().UTC().Add(24*time.Hour), 0)
	if err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if got.ID != "uuid-1" || got.Email != "tg1_abc@vpn.test" {
		t.Errorf("recreate returned %q/%q", got.ID, got.Email)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	panel := &fakePanel{clients: []Client{{
		ID: "uuid-1", Email: "tg1_abc@vpn.test", Enable: true,
	}}}
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	node := testNodeFor(srv)

	found, err := gw.Delete(context.Background(), node, ByID("uuid-1"))
	if err != nil {
		t.Fatalf("first Delete: %v", err)
	}
	if !found {
		t.Error("first delete should report found=true")
	}

	found, err = gw.Delete(context.Background(), node, ByID("uuid-1"))
	if err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if found {
		t.Error("second delete should report found=false")
	}
}

func TestDeleteByAlias(t *testing.T) {
	panel := &fakePanel{clients: []Client{{
		ID: "uuid-1", Email: "tg1_abc@vpn.test", Enable: true,
	}}}
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	found, err := gw.Delete(context.Background(), testNodeFor(srv), ByAlias("tg1_abc@vpn.test"))
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !found {
		t.Error("expected found=true")
	}
	if panel.find("uuid-1") != nil {
		t.Error("client still on panel")
	}
}

func TestCountActiveCountsEnabledOnly(t *testing.T) {
	panel := &fakePanel{clients: []Client{
		{ID: "a", Email: "a@vpn.test", Enable: true},
		{ID: "b", Email: "b@vpn.test", Enable: false},
		{ID: "c", Email: "c@vpn.test", Enable: true},
	}}
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	n, err := gw.CountActive(context.Background(), testNodeFor(srv))
	if err != nil {
		t.Fatalf("CountActive: %v", err)
	}
	if n != 2 {
		t.Errorf("CountActive = %d, want 2", n)
	}
}

func TestProbeUnreachableNode(t *testing.T) {
	panel := &fakePanel{loginFails: true}
	srv := httptest.NewServer(panel.handler())
	defer srv.Close()

	gw := newTestGateway()
	if err := gw.Probe(context.Background(), testNodeFor(srv)); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err = %v, want ErrUnreachable", err)
	}
}

func TestTargetExpiry(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	future := now.Add(48 * time.Hour)
	if got := targetExpiry(&future, 30, now); !got.Equal(future.Add(30 * 24 * time.Hour)) {
		t.Errorf("future hint: got %v", got)
	}

	past := now.Add(-time.Hour)
	if got := targetExpiry(&past, 30, now); !got.Equal(now.Add(30 * 24 * time.Hour)) {
		t.Errorf("past hint: got %v", got)
	}

	if got := targetExpiry(nil, 7, now); !got.Equal(now.Add(7 * 24 * time.Hour)) {
		t.Errorf("nil hint: got %v", got)
	}
}

func TestPickLimit(t *testing.T) {
	if got := pickLimit(5, 3, 1); got != 5 {
		t.Errorf("requested wins: got %d", got)
	}
	if got := pickLimit(0, 3, 1); got != 3 {
		t.Errorf("existing wins over default: got %d", got)
	}
	if got := pickLimit(0, 0, 1); got != 1 {
		t.Errorf("default fallback: got %d", got)
	}
}
