package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
)

type ctxKey int

const correlationKey ctxKey = iota

// WithCorrelation stamps ctx with a correlation id shared by every request
// issued during one public operation. An existing id is left untouched so
// nested calls stay in the same scope.
func WithCorrelation(ctx context.Context) context.Context {
	if _, ok := ctx.Value(correlationKey).(string); ok {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, uuid.NewString())
}

func correlationFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// call describes one Web API request. Path is relative to the API base
// unless it is already absolute (continuation links come back absolute).
type call struct {
	method  string
	path    string
	query   url.Values
	headers map[string]string
	// body is JSON-marshaled when set; raw wins when both are set.
	body any
	raw  []byte
	// timeout overrides the method-default request timeout.
	timeout time.Duration
}

// response is a fully drained Web API response.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) decode(v any) error {
	if len(r.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return dataverse.NewInternalError("decode response body", err)
	}
	return nil
}

// transport owns the HTTP client, auth header construction, and the retry
// loop. Every request of the SDK funnels through do or doMetadata.
type transport struct {
	cfg       *dataverse.Config
	tokens    dataverse.TokenProvider
	http      *http.Client
	backoff   *BackoffPolicy
	metaRetry *MetadataRetryPolicy
}

func newTransport(cfg *dataverse.Config, tokens dataverse.TokenProvider) *transport {
	return &transport{
		cfg:    cfg,
		tokens: tokens,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConns,
				IdleConnTimeout:     cfg.HTTP.IdleConnTimeout,
			},
		},
		backoff:   NewBackoffPolicy(cfg.HTTP),
		metaRetry: NewMetadataRetryPolicy(cfg.Metadata),
	}
}

func (t *transport) url(c *call) string {
	u := c.path
	if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
		u = t.cfg.APIBaseURL() + u
	}
	if len(c.query) > 0 {
		u += "?" + c.query.Encode()
	}
	return u
}

// do executes the call with the generic retry policy and returns the
// response on any 2xx status. Non-2xx statuses surface as *DataverseError.
func (t *transport) do(ctx context.Context, c *call) (*response, error) {
	u := t.url(c)

	payload := c.raw
	if payload == nil && c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			return nil, dataverse.NewInternalError("encode request body", err)
		}
		payload = b
	}

	requestID := uuid.NewString()
	for attempt := 0; ; attempt++ {
		resp, err := t.roundTrip(ctx, c, u, payload, requestID)
		if err != nil {
			delay, retry := t.backoff.NextDelay(attempt, 0, "")
			if !retry {
				return nil, dataverse.NewHTTPError(0, fmt.Sprintf("%s %s: %v", c.method, u, err)).WithCause(err)
			}
			zap.S().Warnw("request failed, retrying",
				"method", c.method, "url", u, "attempt", attempt, "delay", delay, "error", err)
			EmitRetry(ctx, "network", attempt)
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, dataverse.NewHTTPError(0, "request canceled").WithCause(err)
			}
			continue
		}
		if resp.status < 400 {
			return resp, nil
		}
		delay, retry := t.backoff.NextDelay(attempt, resp.status, resp.header.Get("Retry-After"))
		if !retry {
			return nil, t.errorFromResponse(c.method, u, resp)
		}
		zap.S().Warnw("transient status, retrying",
			"method", c.method, "url", u, "status", resp.status, "attempt", attempt, "delay", delay)
		EmitRetry(ctx, strconv.Itoa(resp.status), attempt)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, dataverse.NewHTTPError(0, "request canceled").WithCause(err)
		}
	}
}

// doMetadata layers the 404 retry schedule over do for metadata endpoints,
// where a 404 shortly after a schema change means "not visible yet".
func (t *transport) doMetadata(ctx context.Context, c *call) (*response, error) {
	for attempt := 0; ; attempt++ {
		resp, err := t.do(ctx, c)
		if err == nil {
			return resp, nil
		}
		status := 0
		if de, ok := dataverse.AsDataverseError(err); ok {
			status = de.StatusCode
		}
		delay, retry := t.metaRetry.NextDelay(attempt, status, "")
		if !retry {
			return nil, err
		}
		zap.S().Debugw("metadata not visible yet, retrying",
			"url", t.url(c), "attempt", attempt, "delay", delay)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (t *transport) roundTrip(ctx context.Context, c *call, u string, payload []byte, requestID string) (*response, error) {
	timeout := c.timeout
	if timeout == 0 {
		switch c.method {
		case http.MethodPost, http.MethodDelete:
			timeout = t.cfg.HTTP.WriteTimeout
		default:
			timeout = t.cfg.HTTP.ReadTimeout
		}
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(rctx, c.method, u, body)
	if err != nil {
		return nil, err
	}

	token, err := t.tokens.Token(rctx, t.cfg.TokenScope())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	req.Header.Set("x-ms-client-request-id", requestID)
	if cid := correlationFrom(ctx); cid != "" {
		req.Header.Set("x-ms-correlation-id", cid)
	}
	if t.cfg.HTTP.UserAgent != "" {
		req.Header.Set("User-Agent", t.cfg.HTTP.UserAgent)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	zap.S().Debugw("dataverse request",
		"method", c.method, "url", u, "status", resp.StatusCode,
		"elapsed", elapsed, "requestId", requestID)
	EmitRequestLatency(ctx, c.method, resp.StatusCode, elapsed.Milliseconds())
	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

// bodyExcerptLimit bounds how much of an error body is kept for diagnostics.
const bodyExcerptLimit = 1000

// errorFromResponse turns a non-2xx response into a structured error,
// pulling the service error code and message out of the OData envelope
// when the body carries one.
func (t *transport) errorFromResponse(method, u string, resp *response) *dataverse.DataverseError {
	message := fmt.Sprintf("%s %s returned %d", method, u, resp.status)
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}

	e := dataverse.NewHTTPError(resp.status, message)
	if len(resp.body) > 0 {
		if err := json.Unmarshal(resp.body, &envelope); err == nil && (envelope.Error.Code != "" || envelope.Error.Message != "") {
			if envelope.Error.Message != "" {
				e.Message = envelope.Error.Message
			}
			e.ServiceCode = envelope.Error.Code
		} else {
			excerpt := string(resp.body)
			if len(excerpt) > bodyExcerptLimit {
				excerpt = excerpt[:bodyExcerptLimit]
			}
			e.BodyExcerpt = excerpt
		}
	}
	for _, h := range []string{"x-ms-service-request-id", "x-ms-correlation-request-id", "req_id"} {
		if v := resp.header.Get(h); v != "" {
			e.CorrelationID = v
			break
		}
	}
	if ra := resp.header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(ra)); err == nil && secs >= 0 {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
	}
	return e
}
