// Package vault talks to the remote secret-storage API that holds wallet keys.
package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BookMeBot/book-me-bot/internal/service/retry"
)

const DefaultBaseURL = "https://nillion-storage-apis-v0.onrender.com"

var (
	ErrVaultUnavailable = errors.New("vault unavailable")
	ErrVaultWrite       = errors.New("vault write failed")
	ErrVaultRead        = errors.New("vault read failed")
)

// Config describes how to reach the vault.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// ReadPolicy governs retries of RetrieveSecret. Zero value means
	// DefaultReadPolicy.
	ReadPolicy retry.Policy
}

// DefaultReadPolicy keeps the three-attempt linear backoff but sets no
// per-attempt deadline: each request is bounded by Config.Timeout.
func DefaultReadPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.AttemptTimeout = 0
	return p
}

// Client is an HTTP client for the vault API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	readPolicy retry.Policy
}

// NewClient builds a vault client.
func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	policy := cfg.ReadPolicy
	if policy.MaxAttempts == 0 {
		policy = DefaultReadPolicy()
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: timeout},
		readPolicy: policy,
	}
}

type registerResponse struct {
	AppID string `json:"app_id"`
}

// RegisterAppID asks the vault for a new app id.
func (c *Client) RegisterAppID(ctx context.Context) (string, error) {
	var resp registerResponse
	status, err := c.doJSON(ctx, http.MethodPost, "/api/apps/register", nil, &resp)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrVaultUnavailable, err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: register returned status %d", ErrVaultUnavailable, status)
	}
	if resp.AppID == "" {
		return "", fmt.Errorf("%w: register response without app_id", ErrVaultUnavailable)
	}

	log.Printf("[vault] registered new app id %s", resp.AppID)
	return resp.AppID, nil
}

type storeSecretRequest struct {
	Secret      secretBody  `json:"secret"`
	Permissions permissions `json:"permissions"`
}

type secretBody struct {
	NillionSeed string `json:"nillion_seed"`
	SecretValue string `json:"secret_value"`
	SecretName  string `json:"secret_name"`
}

type permissions struct {
	Retrieve []string       `json:"retrieve"`
	Update   []string       `json:"update"`
	Delete   []string       `json:"delete"`
	Compute  map[string]any `json:"compute"`
}

// StoreSecret writes value under appID. It makes a single attempt.
func (c *Client) StoreSecret(ctx context.Context, appID, seed, name, value string) error {
	if appID == "" {
		return fmt.Errorf("%w: app id is required", ErrVaultWrite)
	}

	body := storeSecretRequest{
		Secret: secretBody{NillionSeed: seed, SecretValue: value, SecretName: name},
		Permissions: permissions{
			Retrieve: []string{},
			Update:   []string{},
			Delete:   []string{},
			Compute:  map[string]any{},
		},
	}

	status, err := c.doJSON(ctx, http.MethodPost, "/api/apps/"+url.PathEscape(appID)+"/secrets", body, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrVaultWrite, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return fmt.Errorf("%w: store returned status %d", ErrVaultWrite, status)
	}

	log.Printf("[vault] secret %s stored for app id %s", name, appID)
	return nil
}

type storeIDsResponse struct {
	StoreIDs []storeID `json:"store_ids"`
}

type storeID struct {
	StoreID    string `json:"store_id"`
	SecretName string `json:"secret_name"`
}

type retrieveResponse struct {
	Secret string `json:"secret"`
}

// RetrieveSecret looks up the secret called name for appID. The boolean is
// false, with a nil error, when the app has nothing stored yet.
func (c *Client) RetrieveSecret(ctx context.Context, appID, seed, name string) (string, bool, error) {
	if appID == "" {
		return "", false, fmt.Errorf("%w: app id is required", ErrVaultRead)
	}

	type result struct {
		secret string
		found  bool
	}
	res, err := retry.Value(ctx, c.readPolicy, "vault retrieve", func(ctx context.Context) (result, error) {
		secret, found, err := c.retrieveOnce(ctx, appID, seed, name)
		return result{secret: secret, found: found}, err
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", ErrVaultRead, err)
	}
	return res.secret, res.found, nil
}

func (c *Client) retrieveOnce(ctx context.Context, appID, seed, name string) (string, bool, error) {
	var ids storeIDsResponse
	status, err := c.doJSON(ctx, http.MethodGet, "/api/apps/"+url.PathEscape(appID)+"/store_ids", nil, &ids)
	if err != nil {
		return "", false, err
	}
	if status != http.StatusOK {
		return "", false, fmt.Errorf("store_ids returned status %d", status)
	}
	if len(ids.StoreIDs) == 0 {
		return "", false, nil
	}

	entry := ids.StoreIDs[0]
	for _, candidate := range ids.StoreIDs {
		if candidate.SecretName == name {
			entry = candidate
			break
		}
	}

	query := url.Values{}
	query.Set("retrieve_as_nillion_user_seed", seed)
	query.Set("secret_name", entry.SecretName)

	var secret retrieveResponse
	path := "/api/secret/retrieve/" + url.PathEscape(entry.StoreID) + "?" + query.Encode()
	status, err = c.doJSON(ctx, http.MethodGet, path, nil, &secret)
	if err != nil {
		return "", false, err
	}
	if status != http.StatusOK {
		return "", false, fmt.Errorf("retrieve returned status %d", status)
	}
	if secret.Secret == "" {
		return "", false, errors.New("retrieve response without secret")
	}
	return secret.Secret, true, nil
}

// doJSON sends body (if any) as JSON and decodes a 2xx response into out.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, nil
	}
	if out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}
