// ABOUTME: Injectable observability hook for WebAuthn endpoint traffic
// ABOUTME: Captures request metadata and redacted bodies, never ambient state

package web

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
)

// maxObservedBody caps how much of a request body the observer sees. The
// handler always receives the full body; only the observer's copy is capped.
const maxObservedBody = 10 * 1024

// fields whose values are stripped before a body reaches an observer.
// Assertion and attestation payloads carry signatures and raw authenticator
// output that must never land in logs.
var redactedFields = []string{
	"response",
	"signature",
	"authenticatorData",
	"attestationObject",
	"clientDataJSON",
	"userHandle",
}

// Observer receives a description of each WebAuthn request. Implementations
// are injected at construction; handlers never log request bodies on their
// own.
type Observer interface {
	ObserveRequest(method, path, contentType string, redactedBody []byte)
}

// SlogObserver logs observed requests through a structured logger.
type SlogObserver struct {
	Logger *slog.Logger
}

// ObserveRequest implements Observer.
func (o *SlogObserver) ObserveRequest(method, path, contentType string, redactedBody []byte) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("webauthn request",
		"method", method,
		"path", path,
		"content_type", contentType,
		"body", string(redactedBody),
	)
}

// observed wraps a WebAuthn handler so the configured observer sees the
// request. The body is re-buffered for the handler and redacted for the
// observer. With no observer configured the handler runs untouched.
func (p *Portal) observed(next http.HandlerFunc) http.HandlerFunc {
	if p.observer == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			next(w, r)
			return
		}
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))

		observed := body
		if len(observed) > maxObservedBody {
			observed = observed[:maxObservedBody]
		}
		p.observer.ObserveRequest(r.Method, r.URL.Path, r.Header.Get("Content-Type"), redactBody(observed))
		next(w, r)
	}
}

// redactBody strips secret material from a JSON request body. Non-JSON
// bodies are withheld entirely rather than guessed at.
func redactBody(body []byte) []byte {
	if len(body) == 0 {
		return nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return []byte(`"[unparsed body withheld]"`)
	}

	for _, field := range redactedFields {
		if _, ok := payload[field]; ok {
			payload[field] = json.RawMessage(`"[redacted]"`)
		}
	}

	redacted, err := json.Marshal(payload)
	if err != nil {
		return []byte(`"[unparsed body withheld]"`)
	}
	return redacted
}
