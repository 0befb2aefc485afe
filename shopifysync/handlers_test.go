package shopifysync

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newWebhookRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/shopify", WebhookHandler)
	return r
}

func TestRejectUnverified(t *testing.T) {
	t.Setenv("WEBHOOK_STRICT_SIGNATURES", "")
	if rejectUnverified(true) {
		t.Error("verified request rejected")
	}
	if rejectUnverified(false) {
		t.Error("lenient mode rejected an unverified request")
	}

	t.Setenv("WEBHOOK_STRICT_SIGNATURES", "true")
	if !rejectUnverified(false) {
		t.Error("strict mode accepted an unverified request")
	}
	if rejectUnverified(true) {
		t.Error("strict mode rejected a verified request")
	}
}

func TestWebhookAckShape(t *testing.T) {
	t.Setenv("WEBHOOK_STRICT_SIGNATURES", "")
	r := newWebhookRouter()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify?b=b1", strings.NewReader(`{"id":1}`))
	req.Header.Set("X-Shopify-Topic", "app/uninstalled")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != `{"success":true}` {
		t.Errorf("ack body = %s, want {\"success\":true}", body)
	}
}

func TestWebhookStrictModeRejectsUnverified(t *testing.T) {
	t.Setenv("WEBHOOK_STRICT_SIGNATURES", "true")
	r := newWebhookRouter()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/shopify?b=b1", strings.NewReader(`{"id":1}`))
	req.Header.Set("X-Shopify-Topic", "orders/create")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}
