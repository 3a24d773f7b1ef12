package question

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Profile steers the adaptive generator; derived from battle progress.
type Profile struct {
	Round    int `json:"round"`
	ScoreGap int `json:"score_gap"`
	Level    int `json:"level"`
}

// Generator produces one question for a battle round.
type Generator interface {
	Generate(ctx context.Context, domain string, profile Profile) (*Question, error)
}

// Client talks to the external adaptive question service.
type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithMaxConnsPerHost(n int) Option {
	return func(c *Client) { c.http.MaxConnsPerHost = n }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       2,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateRequest struct {
	Domain  string  `json:"domain"`
	Profile Profile `json:"profile"`
}

func (c *Client) Generate(ctx context.Context, domain string, profile Profile) (*Question, error) {
	var q Question
	if err := c.doJSON(ctx, fasthttp.MethodPost, "/v1/generate", generateRequest{Domain: domain, Profile: profile}, &q); err != nil {
		return nil, err
	}
	if strings.TrimSpace(q.ID) == "" {
		return nil, fmt.Errorf("question: generator returned empty id")
	}
	return &q, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return err
		}
		req.SetBody(body)
	}

	timeout := c.defaultTimeout
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < timeout {
			timeout = rem
		}
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.http.DoTimeout(req, resp, timeout); err != nil {
			lastErr = err
			continue
		}
		if code := resp.StatusCode(); code >= 500 {
			lastErr = fmt.Errorf("question: generator status %d", code)
			continue
		} else if code >= 400 {
			return fmt.Errorf("question: generator status %d", code)
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(resp.Body(), out)
	}
	return fmt.Errorf("question: generate failed after retries: %w", lastErr)
}
