package sharepoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	loginBaseURL = "https://login.microsoftonline.com"
	tokenScope   = "https://graph.microsoft.com/.default"

	// Refresh this long before the reported expiry.
	tokenExpiryBuffer = 5 * time.Minute
)

// ErrAuthFailed indicates the client-credentials exchange was rejected.
var ErrAuthFailed = errors.New("SharePoint authentication failed")

// TokenSource acquires and caches an app-only access token via the OAuth2
// client-credentials grant. Tokens are held in memory only; a scheduled run
// authenticates fresh and refreshes on expiry.
type TokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewTokenSource creates a token source for the given tenant.
func NewTokenSource(tenantID, clientID, clientSecret string, timeout time.Duration) *TokenSource {
	return &TokenSource{
		tokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", loginBaseURL, tenantID),
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// newTokenSourceForTest points the source at a test server.
func newTokenSourceForTest(tokenURL, clientID, clientSecret string) *TokenSource {
	return &TokenSource{
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Token returns a valid access token, acquiring or refreshing as needed.
func (ts *TokenSource) Token(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.accessToken != "" && time.Now().Add(tokenExpiryBuffer).Before(ts.expiresAt) {
		return ts.accessToken, nil
	}

	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	data.Set("client_id", ts.clientID)
	data.Set("client_secret", ts.clientSecret)
	data.Set("scope", tokenScope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return "", fmt.Errorf("%w: %s %s", ErrAuthFailed, errResp.Error, errResp.Description)
	}

	var tokenResp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if tokenResp.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuthFailed)
	}

	ts.accessToken = tokenResp.AccessToken
	ts.expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)

	return ts.accessToken, nil
}
