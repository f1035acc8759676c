// Package api is the HTTP client of the remote store. It provides the
// per-resource executors of the action queue, the snapshot fetcher and the
// connectivity probe.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iudanet/offsync/internal/client/datasync"
	"github.com/iudanet/offsync/internal/client/network"
	"github.com/iudanet/offsync/internal/client/queue"
	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/pkg/api"
)

const (
	healthPath  = "/api/v1/health"
	tenantsPath = "/api/v1/tenants"
)

//go:generate moq -out token_source_mock.go . TokenSource

// TokenSource supplies the bearer token for authenticated requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// Client представляет HTTP клиент для взаимодействия с удалённым хранилищем
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	baseURL    string
}

var (
	_ datasync.Fetcher = (*Client)(nil)
	_ network.Prober   = (*Client)(nil)
)

// NewClient создает новый API клиент
func NewClient(baseURL string, tokens TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get(api.HeaderAuthorization) != "" {
					req.Header.Set(api.HeaderAuthorization, via[0].Header.Get(api.HeaderAuthorization))
				}
				return nil
			},
		},
	}
}

// Ping checks that the remote store answers its health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, healthPath, nil, nil, false, &resp); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}

// Executor returns the queue executor that applies actions of resource
// to the remote store. The action id is sent as the idempotency key.
func (c *Client) Executor(resource string) queue.Executor {
	return func(ctx context.Context, action *models.Action) error {
		collection := recordsPath(action.TenantID, resource)
		headers := map[string]string{
			api.HeaderIdempotencyKey: action.ID,
			api.HeaderActorID:        action.ActorID,
		}

		var (
			method string
			path   string
			body   json.RawMessage
		)

		switch action.Kind {
		case models.ActionCreate:
			method, path, body = http.MethodPost, collection, action.Payload
		case models.ActionUpdate:
			id := action.TargetID()
			if id == "" {
				return queue.ErrMissingTargetID
			}
			method, path, body = http.MethodPut, collection+"/"+url.PathEscape(id), action.Payload
		case models.ActionDelete:
			id := action.TargetID()
			if id == "" {
				return queue.ErrMissingTargetID
			}
			method, path = http.MethodDelete, collection+"/"+url.PathEscape(id)
		default:
			return fmt.Errorf("%w: %q", queue.ErrInvalidKind, action.Kind)
		}

		if err := c.doRequest(ctx, method, path, body, headers, true, nil); err != nil {
			return fmt.Errorf("%s %s failed: %w", action.Kind, resource, err)
		}
		return nil
	}
}

// Fetch downloads records of one collection, filtered by req.Field when set.
func (c *Client) Fetch(ctx context.Context, req datasync.FetchRequest) ([]json.RawMessage, error) {
	path := recordsPath(req.TenantID, req.Collection)
	if req.Field != "" {
		query := url.Values{}
		query.Set(api.QueryField, req.Field)
		query.Set(api.QueryKeys, strings.Join(req.Keys, ","))
		path += "?" + query.Encode()
	}

	var resp api.ListResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, true, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s failed: %w", req.Collection, err)
	}
	return resp.Records, nil
}

func recordsPath(tenantID, resource string) string {
	return tenantsPath + "/" + url.PathEscape(tenantID) + "/" + url.PathEscape(resource)
}

// doRequest выполняет HTTP запрос. body уже сериализован в JSON.
func (c *Client) doRequest(ctx context.Context, method, path string, body json.RawMessage, headers map[string]string, authorized bool, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for name, value := range headers {
		if value != "" {
			req.Header.Set(name, value)
		}
	}

	if authorized {
		if c.tokens == nil {
			return errors.New("no token source configured")
		}
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get access token: %w", err)
		}
		req.Header.Set(api.HeaderAuthorization, api.BearerPrefix+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	// Читаем тело ответа
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	// Проверяем статус код
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && (errResp.Message != "" || errResp.Error != "") {
			statusErr.Message = errResp.Message
			if statusErr.Message == "" {
				statusErr.Message = errResp.Error
			}
		}
		return statusErr
	}

	// Декодируем успешный ответ
	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
