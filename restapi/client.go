// Package restapi is the client for the backend REST endpoints the
// notification layer reads from.
package restapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"orderwatch/orders"

	"golang.org/x/time/rate"
)

const codeOK = 200

// ErrAPI matches every *APIError with errors.Is.
var ErrAPI = errors.New("api error")

// APIError is a non-success envelope returned by the backend.
type APIError struct {
	Path    string
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api %s: code %d: %s", e.Path, e.Code, e.Message)
}

func (e *APIError) Unwrap() error { return ErrAPI }

// Page is a Spring Data page.
type Page[T any] struct {
	Content       []T   `json:"content"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int   `json:"totalPages"`
	Size          int   `json:"size"`
	Number        int   `json:"number"`
}

// OrderQuery selects one page of an order list. An empty Status means all.
type OrderQuery struct {
	Status string
	Page   int
	Size   int
}

func (q OrderQuery) values() url.Values {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	v.Set("page", strconv.Itoa(q.Page))
	if q.Size > 0 {
		v.Set("size", strconv.Itoa(q.Size))
	}
	return v
}

// User is the subset of the current-user profile used for identity.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// Restaurant is the subset of the merchant's restaurant used for identity.
type Restaurant struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	IsOpen bool   `json:"isOpen"`
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client calls the backend REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends the token as a bearer credential.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithRateLimit caps outgoing requests. A non-positive rps disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewClient creates a client rooted at baseURL (e.g. http://host:8080/api).
func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the client's base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// ListOrders fetches the current consumer's orders.
func (c *Client) ListOrders(ctx context.Context, q OrderQuery) (*Page[orders.Order], error) {
	var page Page[orders.Order]
	if err := c.get(ctx, "/orders", q.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ListMerchantOrders fetches the current merchant's restaurant orders.
func (c *Client) ListMerchantOrders(ctx context.Context, q OrderQuery) (*Page[orders.Order], error) {
	var page Page[orders.Order]
	if err := c.get(ctx, "/merchant/orders", q.values(), &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CurrentUser fetches the authenticated user.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.get(ctx, "/users/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// MyRestaurant fetches the authenticated merchant's restaurant.
func (c *Client) MyRestaurant(ctx context.Context) (*Restaurant, error) {
	var r Restaurant
	if err := c.get(ctx, "/merchant/restaurant", nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, result any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("api GET %s: rate limit: %w", path, err)
		}
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("api GET %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	return c.decode(path, resp, result)
}

func (c *Client) decode(path string, resp *http.Response, result any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("api read body: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("api HTTP %d: %s", resp.StatusCode, string(data))
		}
		return fmt.Errorf("api decode %s: %w", path, err)
	}
	if env.Code != codeOK {
		return &APIError{Path: path, Code: env.Code, Message: env.Message}
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("api HTTP %d: %s", resp.StatusCode, env.Message)
	}
	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("api decode %s data: %w", path, err)
		}
	}
	return nil
}
