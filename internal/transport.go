package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	pkgerrs "github.com/Kenny2github/mw-api-client/pkg/errors"
	"github.com/Kenny2github/mw-api-client/pkg/params"
	"golang.org/x/time/rate"
)

// Envelope is one decoded API response body. The top-level keys the engine
// cares about ("error", "warnings", "continue") are pulled out by the
// transport and paginator; everything else is walked lazily per call site.
type Envelope map[string]json.RawMessage

// Caller issues one API call. Implemented by Transport; the paginator and
// limit negotiator depend on this interface so tests can drive them with a
// scripted server.
type Caller interface {
	Call(ctx context.Context, vals params.Values, post bool, files map[string]io.Reader) (Envelope, error)
}

// RateLimitConfig caps steady-state request throughput. The zero value
// disables client-side throttling.
type RateLimitConfig struct {
	// RequestsPerMinute caps sustained throughput. 0 means unthrottled.
	RequestsPerMinute float64
	// Burst allows short spikes above the steady-state rate. Defaults to 1.
	Burst int
}

const (
	secondsPerMinute  = 60.0
	parseFloatBitSize = 64
)

// Transport issues authenticated HTTP calls against one MediaWiki API
// endpoint. It serializes the request envelope, forces the JSON response
// format, decodes the body, surfaces API warnings through the logger, and
// converts API error objects into typed errors. The underlying http.Client
// keeps a cookie jar so a login survives across calls.
type Transport struct {
	client    *http.Client
	apiURL    *url.URL
	userAgent string
	logger    *slog.Logger

	limiter        *rate.Limiter
	mu             sync.Mutex
	forceWaitUntil time.Time
}

// NewTransport returns a transport for the given endpoint URL. If httpClient
// is nil a default client with a 30s timeout is used; either way the client
// gains a cookie jar when it has none, since the login handshake relies on
// server-side session cookies.
func NewTransport(httpClient *http.Client, apiURL, userAgent string, logger *slog.Logger, rateCfg *RateLimitConfig) (*Transport, error) {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if httpClient.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, &pkgerrs.ConfigError{Field: "HTTPClient", Message: "cookie jar: " + err.Error()}
		}
		httpClient.Jar = jar
	}

	parsed, err := url.Parse(apiURL)
	if err != nil {
		return nil, &pkgerrs.ConfigError{Field: "APIURL", Message: err.Error()}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, &pkgerrs.ConfigError{Field: "APIURL", Message: "must be an absolute URL"}
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var limiter *rate.Limiter
	if rateCfg != nil && rateCfg.RequestsPerMinute > 0 {
		burst := rateCfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rateCfg.RequestsPerMinute/secondsPerMinute), burst)
	}

	return &Transport{
		client:    httpClient,
		apiURL:    parsed,
		userAgent: userAgent,
		logger:    logger,
		limiter:   limiter,
	}, nil
}

type apiErrorBody struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

// Call performs one API request. Read calls go out as GET query parameters,
// writes as a POST body (multipart when files are attached). The response
// format is always forced to JSON.
//
// A connection-level failure is retried exactly once with identical
// parameters; a second failure, or any non-2xx status, yields a
// RequestError. An "error" object in a decoded body yields an APIError and
// is never retried here. "warnings" are logged and do not fail the call.
func (t *Transport) Call(ctx context.Context, vals params.Values, post bool, files map[string]io.Reader) (Envelope, error) {
	vals = vals.Clone()
	vals.Set("format", "json")

	if err := t.waitForRateLimit(ctx); err != nil {
		return nil, &pkgerrs.RequestError{URL: t.apiURL.String(), Err: err}
	}

	build, err := t.requestBuilder(ctx, vals, post, files)
	if err != nil {
		return nil, err
	}

	resp, err := t.doOnce(build)
	if err != nil {
		// One retry for transient connection failures. HTTP error statuses
		// are not connection failures and fall through below.
		t.logger.Debug("retrying after connection failure", "url", t.apiURL.String(), "err", err)
		resp, err = t.doOnce(build)
		if err != nil {
			return nil, &pkgerrs.RequestError{URL: t.apiURL.String(), Err: err}
		}
	}
	defer resp.Body.Close()

	t.applyRetryAfter(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &pkgerrs.RequestError{StatusCode: resp.StatusCode, URL: t.apiURL.String(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &pkgerrs.RequestError{
			StatusCode: resp.StatusCode,
			URL:        t.apiURL.String(),
			Body:       truncate(string(body), 512),
		}
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &pkgerrs.RequestError{
			StatusCode: resp.StatusCode,
			URL:        t.apiURL.String(),
			Body:       truncate(string(body), 512),
			Err:        err,
		}
	}

	if raw, ok := env["error"]; ok {
		var apiErr apiErrorBody
		if err := json.Unmarshal(raw, &apiErr); err != nil {
			return nil, &pkgerrs.RequestError{StatusCode: resp.StatusCode, URL: t.apiURL.String(), Err: err}
		}
		return nil, &pkgerrs.APIError{Code: apiErr.Code, Info: apiErr.Info}
	}

	t.logWarnings(env)
	return env, nil
}

// requestBuilder returns a function that constructs a fresh *http.Request,
// so a retry never reuses a consumed body reader.
func (t *Transport) requestBuilder(ctx context.Context, vals params.Values, post bool, files map[string]io.Reader) (func() (*http.Request, error), error) {
	if !post {
		u := *t.apiURL
		q := u.Query()
		for k, v := range vals.Encode() {
			q[k] = v
		}
		u.RawQuery = q.Encode()
		target := u.String()
		return func() (*http.Request, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", t.userAgent)
			return req, nil
		}, nil
	}

	var body []byte
	contentType := "application/x-www-form-urlencoded"
	if len(files) > 0 {
		buf := &bytes.Buffer{}
		w := multipart.NewWriter(buf)
		for field, r := range files {
			part, err := w.CreateFormFile(field, field)
			if err != nil {
				return nil, &pkgerrs.RequestError{URL: t.apiURL.String(), Err: err}
			}
			if _, err := io.Copy(part, r); err != nil {
				return nil, &pkgerrs.RequestError{URL: t.apiURL.String(), Err: err}
			}
		}
		for k, v := range vals {
			if err := w.WriteField(k, v); err != nil {
				return nil, &pkgerrs.RequestError{URL: t.apiURL.String(), Err: err}
			}
		}
		if err := w.Close(); err != nil {
			return nil, &pkgerrs.RequestError{URL: t.apiURL.String(), Err: err}
		}
		body = buf.Bytes()
		contentType = w.FormDataContentType()
	} else {
		body = []byte(vals.Encode().Encode())
	}

	target := t.apiURL.String()
	return func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", t.userAgent)
		req.Header.Set("Content-Type", contentType)
		return req, nil
	}, nil
}

func (t *Transport) doOnce(build func() (*http.Request, error)) (*http.Response, error) {
	req, err := build()
	if err != nil {
		return nil, err
	}
	return t.client.Do(req)
}

// logWarnings surfaces the per-module "warnings" section as non-fatal log
// entries. Format v1 carries each warning text under the "*" key.
func (t *Transport) logWarnings(env Envelope) {
	raw, ok := env["warnings"]
	if !ok {
		return
	}
	var warnings map[string]map[string]string
	if err := json.Unmarshal(raw, &warnings); err != nil {
		t.logger.Warn("undecodable warnings section", "err", err)
		return
	}
	for module, entry := range warnings {
		text := entry["*"]
		if text == "" {
			text = entry["warnings"]
		}
		t.logger.Warn("api warning", "module", module, "warning", text)
	}
}

func (t *Transport) waitForRateLimit(ctx context.Context) error {
	if err := t.waitForForcedDelay(ctx); err != nil {
		return err
	}
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

func (t *Transport) waitForForcedDelay(ctx context.Context) error {
	for {
		t.mu.Lock()
		waitUntil := t.forceWaitUntil
		t.mu.Unlock()

		if waitUntil.IsZero() {
			return nil
		}

		now := time.Now()
		if !now.Before(waitUntil) {
			t.clearForcedDelay(waitUntil)
			return nil
		}

		timer := time.NewTimer(waitUntil.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			t.clearForcedDelay(waitUntil)
		}
	}
}

func (t *Transport) clearForcedDelay(previous time.Time) {
	t.mu.Lock()
	if previous.Equal(t.forceWaitUntil) {
		t.forceWaitUntil = time.Time{}
	}
	t.mu.Unlock()
}

// applyRetryAfter honors the Retry-After header MediaWiki sends with maxlag
// and rate-limit responses by deferring subsequent requests.
func (t *Transport) applyRetryAfter(resp *http.Response) {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return
	}
	seconds, err := strconv.ParseFloat(retryAfter, parseFloatBitSize)
	if err != nil || seconds <= 0 {
		return
	}
	until := time.Now().Add(time.Duration(seconds * float64(time.Second)))
	t.mu.Lock()
	if until.After(t.forceWaitUntil) {
		t.forceWaitUntil = until
	}
	t.mu.Unlock()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
