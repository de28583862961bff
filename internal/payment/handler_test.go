package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gothik99/botweb/internal/models"
	"github.com/Gothik99/botweb/internal/subscription"
)

type mockPayments struct {
	mu     sync.Mutex
	status map[string]string
}

func newMockPayments(status map[string]string) *mockPayments {
	return &mockPayments{status: status}
}

func (m *mockPayments) Get(ctx context.Context, id string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.status[id]
	if !ok {
		return nil, nil
	}
	return &models.Payment{ID: id, Status: s}, nil
}

func (m *mockPayments) Claim(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status[id] != "pending" {
		return false, nil
	}
	m.status[id] = "succeeded"
	return true, nil
}

func (m *mockPayments) UpdateStatus(ctx context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[id] = status
	return nil
}

func (m *mockPayments) get(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status[id]
}

type mockGranter struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockGranter) Grant(ctx context.Context, telegramID int64, daysToAdd int, isTrial bool, limitIP int) (*subscription.Grant, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	// Hold the window open the way real panel round trips would.
	time.Sleep(10 * time.Millisecond)
	if m.err != nil {
		return nil, m.err
	}
	return &subscription.Grant{
		Expiry: time.Now().UTC().Add(time.Duration(daysToAdd) * 24 * time.Hour),
		Link:   "https://vpn.test/sub/abc",
	}, nil
}

func (m *mockGranter) grants() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var successMetadata = map[string]string{"telegram_id": "7", "days": "30", "limit_ip": "0"}

func guardHandler() *Handler {
	return &Handler{
		AllowIPs: []string{"203.0.113.0/24"},
		Log:      zerolog.Nop(),
	}
}

func TestHandleWebhookRejectsNonPost(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/webhook/yookassa", nil)
	req.RemoteAddr = "203.0.113.5:443"
	rec := httptest.NewRecorder()

	guardHandler().HandleWebhook(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestHandleWebhookRejectsUnlistedIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook/yookassa", strings.NewReader(`{}`))
	req.RemoteAddr = "198.51.100.7:443"
	rec := httptest.NewRecorder()

	guardHandler().HandleWebhook(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestHandleWebhookRejectsBadJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhook/yookassa", strings.NewReader(`{broken`))
	req.RemoteAddr = "203.0.113.5:443"
	rec := httptest.NewRecorder()

	guardHandler().HandleWebhook(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestHandleWebhookIgnoresUnknownEvent(t *testing.T) {
	body := `{"event":"refund.succeeded","object":{"id":"p1","status":"refunded"}}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/yookassa", strings.NewReader(body))
	req.RemoteAddr = "203.0.113.5:443"
	rec := httptest.NewRecorder()

	guardHandler().HandleWebhook(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestProcessSucceededGrantsOnceUnderConcurrentResolvers(t *testing.T) {
	payments := newMockPayments(map[string]string{"p1": "pending"})
	granter := &mockGranter{}
	h := &Handler{Payments: payments, Subs: granter, Log: zerolog.Nop()}

	// Webhook delivery, poller tick and the manual check button can all
	// resolve the same payment at once.
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.ProcessSucceeded(context.Background(), "p1", successMetadata); err != nil {
				t.Errorf("ProcessSucceeded: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := granter.grants(); got != 1 {
		t.Fatalf("grants = %d, want exactly 1", got)
	}
	if got := payments.get("p1"); got != "succeeded" {
		t.Errorf("status = %q, want succeeded", got)
	}
}

func TestProcessSucceededReleasesClaimOnGrantFailure(t *testing.T) {
	payments := newMockPayments(map[string]string{"p1": "pending"})
	granter := &mockGranter{err: errors.New("panel down")}
	h := &Handler{Payments: payments, Subs: granter, Log: zerolog.Nop()}

	if err := h.ProcessSucceeded(context.Background(), "p1", successMetadata); err == nil {
		t.Fatal("expected grant failure to surface")
	}
	if got := payments.get("p1"); got != "pending" {
		t.Errorf("status = %q, want pending so a later resolver retries", got)
	}

	granter.err = nil
	if err := h.ProcessSucceeded(context.Background(), "p1", successMetadata); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := granter.grants(); got != 2 {
		t.Errorf("grants = %d, want 2 (failed attempt plus retry)", got)
	}
	if got := payments.get("p1"); got != "succeeded" {
		t.Errorf("status = %q, want succeeded", got)
	}
}

func TestProcessSucceededSkipsLostClaim(t *testing.T) {
	payments := newMockPayments(map[string]string{"done": "succeeded"})
	granter := &mockGranter{}
	h := &Handler{Payments: payments, Subs: granter, Log: zerolog.Nop()}

	if err := h.ProcessSucceeded(context.Background(), "done", successMetadata); err != nil {
		t.Fatalf("resolved payment: %v", err)
	}
	if err := h.ProcessSucceeded(context.Background(), "unknown", successMetadata); err != nil {
		t.Fatalf("unknown payment: %v", err)
	}
	if got := granter.grants(); got != 0 {
		t.Errorf("grants = %d, want 0", got)
	}
}
