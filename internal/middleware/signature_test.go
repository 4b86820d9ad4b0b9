package middleware

import (
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

func signatureRouter(v *SignatureVerifier, gotBody *string) http.Handler {
	r := chi.NewRouter()
	r.With(v.Middleware).Post("/webhooks/{provider}", func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		*gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func TestSignatureVerifier(t *testing.T) {
	const body = `{"type":"payment.succeeded"}`
	valid := hex.EncodeToString(Sign([]byte("whsec"), []byte(body)))

	tests := []struct {
		name       string
		provider   string
		header     string
		value      string
		wantStatus int
	}{
		{name: "valid dodo signature", provider: "dodo", header: "X-Dodo-Signature", value: valid, wantStatus: http.StatusOK},
		{name: "prefixed signature", provider: "dodo", header: "X-Dodo-Signature", value: "sha256=" + valid, wantStatus: http.StatusOK},
		{name: "wrong signature", provider: "dodo", header: "X-Dodo-Signature", value: strings.Repeat("0", 64), wantStatus: http.StatusUnauthorized},
		{name: "missing signature", provider: "dodo", wantStatus: http.StatusUnauthorized},
		{name: "not hex", provider: "dodo", header: "X-Dodo-Signature", value: "zz", wantStatus: http.StatusUnauthorized},
		{name: "no secret configured", provider: "paddle", wantStatus: http.StatusOK},
	}

	v := NewSignatureVerifier(map[string]string{"dodo": "whsec", "paddle": ""})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := signatureRouter(v, &got)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/"+tt.provider, strings.NewReader(body))
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && got != body {
				t.Fatalf("handler body = %q, want %q", got, body)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	body := []byte("payload")
	sig := hex.EncodeToString(Sign([]byte("k"), body))

	if err := verify([]byte("k"), body, sig); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := verify([]byte("other"), body, sig); !errors.Is(err, model.ErrSignatureInvalid) {
		t.Fatalf("expected ErrSignatureInvalid, got %v", err)
	}
}
