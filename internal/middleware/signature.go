package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

// maxWebhookBody ограничивает размер тела уведомления.
const maxWebhookBody = 1 << 20

// SignatureHeaders задаёт заголовок подписи для каждого провайдера.
var SignatureHeaders = map[string]string{
	"dodo":   "X-Dodo-Signature",
	"paddle": "Paddle-Signature",
}

// SignatureVerifier проверяет HMAC-SHA256 подпись тела уведомления провайдера.
type SignatureVerifier struct {
	secrets map[string][]byte
}

// NewSignatureVerifier создаёт проверку подписей. Для провайдера без секрета подпись не проверяется.
func NewSignatureVerifier(secrets map[string]string) *SignatureVerifier {
	keys := make(map[string][]byte, len(secrets))
	for provider, secret := range secrets {
		if secret != "" {
			keys[provider] = []byte(secret)
		}
	}
	return &SignatureVerifier{secrets: keys}
}

// Middleware читает тело запроса, сверяет подпись и возвращает тело обработчику без изменений.
// Провайдер берётся из параметра маршрута {provider}.
func (v *SignatureVerifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		key, ok := v.secrets[provider]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		r.Body.Close()
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		if err := verify(key, body, r.Header.Get(SignatureHeaders[provider])); err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func verify(key, body []byte, header string) error {
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, "sha256=")
	if header == "" {
		return fmt.Errorf("%w: missing signature", model.ErrSignatureInvalid)
	}

	got, err := hex.DecodeString(header)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", model.ErrSignatureInvalid)
	}

	if !hmac.Equal(got, Sign(key, body)) {
		return model.ErrSignatureInvalid
	}
	return nil
}

// Sign вычисляет HMAC-SHA256 тела запроса.
func Sign(key, body []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(body)
	return mac.Sum(nil)
}
