// Package client talks to a running authcore instance over HTTP and the gRPC
// health protocol. It backs the smoke command and end-to-end tests.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"authcore.org/internal/auth"
)

// Client wraps the HTTP API. The zero token means unauthenticated calls.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// New creates a client with sensible defaults.
func New(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// WithToken returns a copy that sends token as the bearer credential.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Login(ctx context.Context, login, password string) (auth.LoginResult, error) {
	var out auth.LoginResult
	err := c.do(ctx, http.MethodPost, "/login", auth.LoginInput{EmailOrUsername: login, Password: password}, &out)
	return out, err
}

func (c *Client) Whoami(ctx context.Context) (auth.Principal, error) {
	var out auth.Principal
	err := c.do(ctx, http.MethodGet, "/user", nil, &out)
	return out, err
}

func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/logout", nil, nil)
}

func (c *Client) CreateAccount(ctx context.Context, in auth.CreateAccountInput) (auth.AccountView, error) {
	var out auth.AccountView
	err := c.do(ctx, http.MethodPost, "/api/v1/user", in, &out)
	return out, err
}

func (c *Client) DeleteAccount(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/user/%s", id), nil, nil)
}

func (c *Client) CreateEntry(ctx context.Context, catalog auth.Catalog, code, name string) (auth.CatalogEntry, error) {
	var out auth.CatalogEntry
	err := c.do(ctx, http.MethodPost, "/api/v1/"+catalogPath(catalog), auth.CatalogInput{Code: code, Name: name}, &out)
	return out, err
}

func (c *Client) DeleteEntry(ctx context.Context, catalog auth.Catalog, id uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/%s/%s", catalogPath(catalog), id), nil, nil)
}

// Sync replaces the account's set in catalog with ids.
func (c *Client) Sync(ctx context.Context, catalog auth.Catalog, accountID uuid.UUID, ids []uuid.UUID) error {
	raw := make([]string, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, id.String())
	}
	body := map[string][]string{string(catalog): raw}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/v1/user/%s/%s", accountID, catalog), body, nil)
}

func catalogPath(c auth.Catalog) string {
	if c == auth.CatalogRoles {
		return "role"
	}
	return "permission"
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return mapStatusError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// mapStatusError turns an error response back into the auth sentinels.
func mapStatusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return auth.ErrUnauthorized
	case http.StatusNotFound:
		return auth.ErrNotFound
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", auth.ErrConflict, errorMessage(data))
	case http.StatusUnprocessableEntity:
		var verr auth.ValidationError
		if err := json.Unmarshal(data, &verr); err == nil && len(verr.Fields) > 0 {
			return &verr
		}
		return auth.ErrInvalidInput
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", auth.ErrInvalidInput, errorMessage(data))
	default:
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, errorMessage(data))
	}
}

func errorMessage(data []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(data))
}

// ErrNotServing is returned by CheckHealth when the server reports anything
// but SERVING.
var ErrNotServing = errors.New("client: service not serving")

// CheckHealth asks the gRPC health endpoint at target about service ("" for
// the whole server).
func CheckHealth(ctx context.Context, target, service string, opts ...grpc.DialOption) error {
	if len(opts) == 0 {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return err
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", ErrNotServing, resp.GetStatus())
	}
	return nil
}
