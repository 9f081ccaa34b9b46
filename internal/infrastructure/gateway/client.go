// Package gateway is the resilient request layer every backend call goes through:
// it attaches the bearer token, decodes the {code, message, data} envelope,
// classifies failures, and applies the one-shot soft-auth retry.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mallfront/storefront-client/internal/core/domain"
	"github.com/mallfront/storefront-client/internal/core/ports"
	"github.com/mallfront/storefront-client/internal/infrastructure/metrics"
)

const (
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 4 << 20

	HeaderRequestID = "X-Request-ID"
)

// Config captures the settings for reaching the storefront backend.
type Config struct {
	// BaseURL includes the /api prefix, e.g. http://localhost:8080/api.
	BaseURL string
	Timeout time.Duration
	// HTTPClient is optional; a plain client is used when nil.
	HTTPClient *http.Client
}

// envelope is the response shape every backend endpoint uses.
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client implements ports.Gateway.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	log     zerolog.Logger

	mu    sync.RWMutex
	hooks ports.SessionHooks
}

func New(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		timeout: timeout,
		http:    hc,
		log:     log,
	}
}

// Attach binds the session manager. Until it is called no token is attached and
// 401s tear nothing down.
func (c *Client) Attach(hooks ports.SessionHooks) {
	c.mu.Lock()
	c.hooks = hooks
	c.mu.Unlock()
}

func (c *Client) sessionHooks() ports.SessionHooks {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hooks
}

func (c *Client) token() string {
	if h := c.sessionHooks(); h != nil {
		return h.CurrentToken()
	}
	return ""
}

// Do sends call and decodes the envelope data into out.
//
// A 401 on a hard endpoint tears the session down and returns KindAuthHard.
// A 401 on a soft endpoint re-resolves identity once and retries once; a second 401
// returns KindAuthSoft, which callers turn into their empty default.
func (c *Client) Do(ctx context.Context, call ports.Call, out any) error {
	token := c.token()
	err := c.attempt(ctx, call, token, out)
	if err == nil {
		metrics.GatewayRequestsTotal.WithLabelValues(call.Endpoint.Name, "ok").Inc()
		return nil
	}

	if isUnauthorized(err) && token != "" {
		if call.Endpoint.Soft {
			err = c.retrySoft(ctx, call, out)
		} else if h := c.sessionHooks(); h != nil {
			c.log.Warn().Str("endpoint", call.Endpoint.Name).Msg("hard auth failure, tearing session down")
			h.Teardown(ctx, token, "hard_401")
		}
	}

	outcome := "ok"
	if err != nil {
		outcome = string(domain.KindOf(err))
	}
	metrics.GatewayRequestsTotal.WithLabelValues(call.Endpoint.Name, outcome).Inc()
	return err
}

func (c *Client) retrySoft(ctx context.Context, call ports.Call, out any) error {
	if h := c.sessionHooks(); h != nil {
		if err := h.ReResolve(ctx); err != nil {
			c.log.Warn().Err(err).Str("endpoint", call.Endpoint.Name).Msg("identity re-resolution failed before soft retry")
		}
	}

	err := c.attempt(ctx, call, c.token(), out)
	switch {
	case err == nil:
		metrics.GatewaySoftRetriesTotal.WithLabelValues(call.Endpoint.Name, "recovered").Inc()
		c.log.Debug().Str("endpoint", call.Endpoint.Name).Msg("soft auth retry recovered")
		return nil
	case isUnauthorized(err):
		metrics.GatewaySoftRetriesTotal.WithLabelValues(call.Endpoint.Name, "swallowed").Inc()
		c.log.Warn().Str("endpoint", call.Endpoint.Name).Msg("soft auth failure swallowed after retry")
		return &domain.Error{Kind: domain.KindAuthSoft, Message: msgAuth, Code: http.StatusUnauthorized}
	default:
		return err
	}
}

// attempt performs exactly one HTTP round trip.
func (c *Client) attempt(ctx context.Context, call ports.Call, token string, out any) error {
	timeout := call.Endpoint.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := c.newRequest(ctx, call, token)
	if err != nil {
		return err
	}
	requestID := req.Header.Get(HeaderRequestID)
	log := c.log.With().Str("endpoint", call.Endpoint.Name).Str("request_id", requestID).Logger()

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.GatewayRequestDuration.WithLabelValues(call.Endpoint.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		de := classifyTransport(ctx, err)
		log.Warn().Err(err).Str("kind", string(de.Kind)).Msg("request failed without response")
		return de
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		de := classifyTransport(ctx, err)
		log.Warn().Err(err).Str("kind", string(de.Kind)).Msg("failed to read response body")
		return de
	}

	var env envelope
	decodeErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		de := classify(resp.StatusCode, env.Message)
		log.Warn().Int("status", resp.StatusCode).Str("kind", string(de.Kind)).Msg("backend returned http error")
		return de
	}
	if decodeErr != nil {
		log.Warn().Err(decodeErr).Msg("undecodable envelope")
		return &domain.Error{Kind: domain.KindServer, Message: msgMalformed, Code: resp.StatusCode, Err: decodeErr}
	}
	if env.Code != codeOK {
		de := classify(env.Code, env.Message)
		log.Warn().Int("code", env.Code).Str("kind", string(de.Kind)).Str("message", env.Message).Msg("backend returned application error")
		return de
	}

	if out != nil && len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		if err := json.Unmarshal(env.Data, out); err != nil {
			log.Warn().Err(err).Msg("failed to decode envelope data")
			return &domain.Error{Kind: domain.KindServer, Message: msgMalformed, Code: env.Code, Err: err}
		}
	}
	log.Debug().Msg("request ok")
	return nil
}

func (c *Client) newRequest(ctx context.Context, call ports.Call, token string) (*http.Request, error) {
	url := c.baseURL + call.Endpoint.Path
	if len(call.Query) > 0 {
		url += "?" + call.Query.Encode()
	}

	var body io.Reader
	if call.Body != nil {
		b, err := json.Marshal(call.Body)
		if err != nil {
			return nil, domain.NewValidation(fmt.Sprintf("unencodable request body: %v", err), err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, call.Endpoint.Method, url, body)
	if err != nil {
		return nil, domain.NewValidation(fmt.Sprintf("invalid request: %v", err), err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderRequestID, uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}
