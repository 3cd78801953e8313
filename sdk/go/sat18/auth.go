package sat18

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sat18-labs/sat18/internal/model"
)

// tokenManager performs the handshake and caches the session token until
// shortly before it expires. It is safe for concurrent use.
type tokenManager struct {
	baseURL  string
	clientID string
	apiKey   string
	client   *http.Client
	margin   time.Duration
	now      func() time.Time

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenManager(baseURL, clientID, apiKey string, client *http.Client) *tokenManager {
	return &tokenManager{
		baseURL:  baseURL,
		clientID: clientID,
		apiKey:   apiKey,
		client:   client,
		margin:   30 * time.Second,
		now:      time.Now,
	}
}

func (tm *tokenManager) getToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != "" && tm.now().Before(tm.expiresAt.Add(-tm.margin)) {
		return tm.token, nil
	}
	if err := tm.handshake(ctx); err != nil {
		return "", err
	}
	return tm.token, nil
}

// invalidate drops the cached token so the next request handshakes again.
func (tm *tokenManager) invalidate() {
	tm.mu.Lock()
	tm.token = ""
	tm.mu.Unlock()
}

func (tm *tokenManager) handshake(ctx context.Context) error {
	body, err := json.Marshal(model.HandshakeRequest{ClientID: tm.clientID, APIKey: tm.apiKey})
	if err != nil {
		return fmt.Errorf("sat18: marshal handshake: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.baseURL+"/auth/handshake", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sat18: create handshake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tm.client.Do(req)
	if err != nil {
		return fmt.Errorf("sat18: handshake: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var hs model.HandshakeResponse
	if err := handleResponse(resp, &hs); err != nil {
		return err
	}
	if hs.SessionToken == "" {
		return fmt.Errorf("sat18: handshake returned no session token")
	}

	tm.token = hs.SessionToken
	tm.expiresAt = hs.ExpiresAt
	if tm.expiresAt.IsZero() {
		tm.expiresAt = tm.now().Add(time.Duration(hs.ExpiresIn) * time.Second)
	}
	return nil
}
