package mwclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Kenny2github/mw-api-client/internal"
	pkgerrs "github.com/Kenny2github/mw-api-client/pkg/errors"
	"github.com/Kenny2github/mw-api-client/pkg/params"
)

const (
	// DefaultUserAgent identifies the client when the caller does not.
	DefaultUserAgent = "mw-api-client/1.0 (golang; net/http)"
	// DefaultTimeout is the default HTTP client timeout.
	DefaultTimeout = 30 * time.Second
)

// Detail controls whether decoding an entity from a list response eagerly
// issues one extra call for its full page info.
type Detail int

const (
	// DetailSession defers to the session's FetchDetail configuration.
	DetailSession Detail = iota
	// DetailAlways loads full info for every yielded entity.
	DetailAlways
	// DetailNever yields entities with only the list response's fields.
	DetailNever
)

// RateLimitConfig caps client-side request throughput. The zero value
// disables throttling.
type RateLimitConfig = internal.RateLimitConfig

// Config holds the configuration for a Wiki session.
type Config struct {
	// APIURL is the wiki's api.php endpoint, e.g.
	// "https://en.wikipedia.org/w/api.php". Required.
	APIURL string

	// UserAgent identifies the client to the wiki. Defaults to
	// DefaultUserAgent.
	UserAgent string

	// HTTPClient to use for requests. Defaults to a client with
	// DefaultTimeout. A cookie jar is installed if the client has none,
	// since the login session lives in cookies.
	HTTPClient *http.Client

	// Logger receives API warnings and request diagnostics. Optional.
	Logger *slog.Logger

	// FetchDetail is the session default for eager page-info loading when a
	// call site passes DetailSession.
	FetchDetail bool

	// RateLimit optionally throttles outgoing requests.
	RateLimit *RateLimitConfig
}

// Wiki is an authenticated session against one MediaWiki API endpoint. It is
// long-lived: create one per target wiki and share it. The token and
// negotiated-ceiling caches are mutex-guarded, so a Wiki may be used from
// several goroutines; individual iterators may not.
type Wiki struct {
	tr          *internal.Transport
	neg         *internal.Negotiator
	logger      *slog.Logger
	apiURL      string
	fetchDetail bool

	mu          sync.Mutex
	tokens      map[string]string
	currentUser *User
}

// New creates a session. No network traffic happens until the first call.
func New(cfg *Config) (*Wiki, error) {
	if cfg == nil {
		return nil, &pkgerrs.ConfigError{Message: "config cannot be nil"}
	}
	if cfg.APIURL == "" {
		return nil, &pkgerrs.ConfigError{Field: "APIURL", Message: "required"}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	tr, err := internal.NewTransport(httpClient, cfg.APIURL, userAgent, logger, cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	w := &Wiki{
		tr:          tr,
		logger:      logger,
		apiURL:      cfg.APIURL,
		fetchDetail: cfg.FetchDetail,
		tokens:      make(map[string]string),
	}
	w.neg = internal.NewNegotiator(tr, w.hasHighLimits)
	return w, nil
}

func (w *Wiki) String() string {
	return fmt.Sprintf("<Wiki at %s>", w.apiURL)
}

// Request issues a raw GET API call and returns the decoded envelope. It
// remains public so callers can reach API modules this package has no
// wrapper for.
func (w *Wiki) Request(ctx context.Context, vals params.Values) (map[string]json.RawMessage, error) {
	return w.tr.Call(ctx, vals, false, nil)
}

// PostRequest issues a raw POST API call.
func (w *Wiki) PostRequest(ctx context.Context, vals params.Values) (map[string]json.RawMessage, error) {
	return w.tr.Call(ctx, vals, true, nil)
}

// postFiles issues a multipart POST carrying file attachments.
func (w *Wiki) postFiles(ctx context.Context, vals params.Values, files map[string]io.Reader) (internal.Envelope, error) {
	return w.tr.Call(ctx, vals, true, files)
}

// CurrentUser returns the identity established by the last successful login,
// or nil.
func (w *Wiki) CurrentUser() *User {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentUser
}

func (w *Wiki) hasHighLimits() bool {
	u := w.CurrentUser()
	return u != nil && u.HasRight("apihighlimits")
}

func (w *Wiki) shouldFetchDetail(d Detail) bool {
	switch d {
	case DetailAlways:
		return true
	case DetailNever:
		return false
	default:
		return w.fetchDetail
	}
}

// LoginResult is the server's response to a login attempt.
type LoginResult struct {
	Result   string `json:"result"`
	UserID   int64  `json:"lguserid"`
	UserName string `json:"lgusername"`
	Reason   string `json:"reason"`
	Extra    map[string]json.RawMessage
}

// Login authenticates with the classic bot-password flow: fetch a login
// token, submit credentials with it, and rely on the transport's cookie jar
// for the resulting session. On success the current user is replaced and the
// negotiated-ceiling cache is reset, since ceilings follow the identity's
// rights.
func (w *Wiki) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	token, err := w.Token(ctx, "login")
	if err != nil {
		return nil, err
	}
	env, err := w.PostRequest(ctx, params.Values{
		"action":     "login",
		"lgname":     username,
		"lgpassword": password,
		"lgtoken":    token,
	})
	if err != nil {
		return nil, err
	}
	result := &LoginResult{}
	if err := decodeSection(env, "login", result); err != nil {
		return nil, err
	}
	if result.Result != "Success" {
		return result, &pkgerrs.APIError{Code: "login-" + result.Result, Info: result.Reason}
	}
	if err := w.becomeUser(ctx, username); err != nil {
		return result, err
	}
	return result, nil
}

// ClientLogin authenticates with the interactive clientlogin flow. Only the
// simple username/password case is covered; wikis with extra authentication
// steps need raw Request calls.
func (w *Wiki) ClientLogin(ctx context.Context, username, password string) (Record, error) {
	token, err := w.Token(ctx, "login")
	if err != nil {
		return nil, err
	}
	env, err := w.PostRequest(ctx, params.Values{
		"action":         "clientlogin",
		"username":       username,
		"password":       password,
		"logintoken":     token,
		"loginreturnurl": w.apiURL,
	})
	if err != nil {
		return nil, err
	}
	var result Record
	if err := decodeSection(env, "clientlogin", &result); err != nil {
		return nil, err
	}
	if err := w.becomeUser(ctx, username); err != nil {
		return result, err
	}
	return result, nil
}

// becomeUser installs the freshly authenticated identity, pulling its groups
// and rights so limit negotiation can pick the correct ceiling.
func (w *Wiki) becomeUser(ctx context.Context, username string) error {
	user := &User{wiki: w, Name: username, IsCurrent: true}

	info, err := w.UserInfo(ctx, "groups|rights")
	if err != nil {
		return err
	}
	delete(info, "name") // keep the name used to log in
	if err := unmarshalRecord(info, user); err != nil {
		return err
	}

	w.mu.Lock()
	w.currentUser = user
	w.tokens = make(map[string]string)
	w.mu.Unlock()
	w.neg.Reset()
	return nil
}

// Logout ends the server-side session and forgets the current identity and
// all cached tokens.
func (w *Wiki) Logout(ctx context.Context) error {
	_, err := w.PostRequest(ctx, params.Values{"action": "logout"})
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.currentUser = nil
	w.tokens = make(map[string]string)
	w.mu.Unlock()
	w.neg.Reset()
	return nil
}

// Page returns a handle for the page with the given title. No network
// traffic happens until a method on the handle is called.
func (w *Wiki) Page(title string) *Page {
	return &Page{wiki: w, Title: title}
}

// Category returns a Page handle in the Category namespace.
func (w *Wiki) Category(title string) *Page {
	return w.Page("Category:" + title)
}

// Template returns a Page handle in the Template namespace.
func (w *Wiki) Template(title string) *Page {
	return w.Page("Template:" + title)
}

// User returns a handle for the named user.
func (w *Wiki) User(name string) *User {
	return &User{wiki: w, Name: name}
}

// decodeSection decodes one top-level envelope member into v.
func decodeSection(env internal.Envelope, key string, v any) error {
	raw, ok := env[key]
	if !ok {
		return &pkgerrs.RequestError{Err: fmt.Errorf("response has no %q section", key)}
	}
	switch target := v.(type) {
	case *Record:
		return json.Unmarshal(raw, target)
	default:
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		return unmarshalRecord(rec, v)
	}
}

// subjectRecord walks env down query.<section> and returns the single
// subject record of the keyed-by-id "pages" shape.
func subjectRecord(env internal.Envelope, section string) (Record, error) {
	raw, ok := env["query"]
	if !ok {
		return nil, &pkgerrs.RequestError{Err: fmt.Errorf("response has no query section")}
	}
	var query map[string]json.RawMessage
	if err := json.Unmarshal(raw, &query); err != nil {
		return nil, err
	}
	inner, ok := query[section]
	if !ok {
		return nil, &pkgerrs.RequestError{Err: fmt.Errorf("query has no %q member", section)}
	}
	var keyed map[string]Record
	if err := json.Unmarshal(inner, &keyed); err != nil {
		return nil, err
	}
	for _, rec := range keyed {
		return rec, nil
	}
	return nil, &pkgerrs.RequestError{Err: fmt.Errorf("query.%s is empty", section)}
}

// querySection decodes query.<section> into v (typically a *[]Record or
// *Record).
func querySection(env internal.Envelope, section string, v any) error {
	raw, ok := env["query"]
	if !ok {
		return &pkgerrs.RequestError{Err: fmt.Errorf("response has no query section")}
	}
	var query map[string]json.RawMessage
	if err := json.Unmarshal(raw, &query); err != nil {
		return err
	}
	inner, ok := query[section]
	if !ok {
		return &pkgerrs.RequestError{Err: fmt.Errorf("query has no %q member", section)}
	}
	return json.Unmarshal(inner, v)
}
