package mwclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/Kenny2github/mw-api-client/internal"
	pkgerrs "github.com/Kenny2github/mw-api-client/pkg/errors"
	"github.com/Kenny2github/mw-api-client/pkg/params"
)

// Token returns a token of the given kind ("csrf", "login", "watch", and so
// on), fetching it from meta=tokens on first use and caching it for the life
// of the session. Write helpers invalidate and refetch cached tokens
// automatically when the server rejects one.
func (w *Wiki) Token(ctx context.Context, kind string) (string, error) {
	w.mu.Lock()
	if tok, ok := w.tokens[kind]; ok {
		w.mu.Unlock()
		return tok, nil
	}
	w.mu.Unlock()

	env, err := w.Request(ctx, params.Values{
		"action": "query",
		"meta":   "tokens",
		"type":   kind,
	})
	if err != nil {
		return "", err
	}
	var tokens map[string]string
	if err := querySection(env, "tokens", &tokens); err != nil {
		return "", err
	}
	tok, ok := tokens[kind+"token"]
	if !ok {
		return "", &pkgerrs.RequestError{Err: fmt.Errorf("no %q token in response", kind)}
	}

	w.mu.Lock()
	w.tokens[kind] = tok
	w.mu.Unlock()
	return tok, nil
}

// InvalidateToken drops a cached token so the next Token call refetches it.
func (w *Wiki) InvalidateToken(kind string) {
	w.mu.Lock()
	delete(w.tokens, kind)
	w.mu.Unlock()
}

// postWithToken attaches a token of the given kind to vals and POSTs. If the
// server answers badtoken, the stale token is dropped, a fresh one fetched,
// and the request replayed exactly once. File readers are buffered up front
// so the replay carries the same payload.
func (w *Wiki) postWithToken(ctx context.Context, kind string, vals params.Values, files map[string]io.Reader) (internal.Envelope, error) {
	var buffered map[string][]byte
	if len(files) > 0 {
		buffered = make(map[string][]byte, len(files))
		for field, r := range files {
			data, err := io.ReadAll(r)
			if err != nil {
				return nil, &pkgerrs.RequestError{Err: fmt.Errorf("reading %s upload: %w", field, err)}
			}
			buffered[field] = data
		}
	}
	for attempt := 0; ; attempt++ {
		token, err := w.Token(ctx, kind)
		if err != nil {
			return nil, err
		}
		v := vals.Clone()
		v.Set("token", token)
		var attemptFiles map[string]io.Reader
		if buffered != nil {
			attemptFiles = make(map[string]io.Reader, len(buffered))
			for field, data := range buffered {
				attemptFiles[field] = bytes.NewReader(data)
			}
		}
		env, err := w.postFiles(ctx, v, attemptFiles)
		if err == nil {
			return env, nil
		}
		var apiErr *pkgerrs.APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.Code == "badtoken" {
			w.InvalidateToken(kind)
			continue
		}
		return nil, err
	}
}

// UserInfo returns meta=userinfo for the current session. props is a
// pipe-joined list of uiprop values ("groups|rights|editcount"); empty asks
// for the default set.
func (w *Wiki) UserInfo(ctx context.Context, props string) (Record, error) {
	vals := params.Values{
		"action": "query",
		"meta":   "userinfo",
	}
	vals.SetNonEmpty("uiprop", props)
	env, err := w.Request(ctx, vals)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := querySection(env, "userinfo", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SiteInfo returns meta=siteinfo for the requested properties, keyed by
// property name. props is a pipe-joined siprop list; empty fetches "general".
func (w *Wiki) SiteInfo(ctx context.Context, props string) (map[string]json.RawMessage, error) {
	if props == "" {
		props = "general"
	}
	env, err := w.Request(ctx, params.Values{
		"action": "query",
		"meta":   "siteinfo",
		"siprop": props,
	})
	if err != nil {
		return nil, err
	}
	raw, ok := env["query"]
	if !ok {
		return nil, &pkgerrs.RequestError{Err: fmt.Errorf("response has no query section")}
	}
	var query map[string]json.RawMessage
	if err := json.Unmarshal(raw, &query); err != nil {
		return nil, err
	}
	return query, nil
}

// FileRepoInfo returns meta=filerepoinfo records for the given friprop.
func (w *Wiki) FileRepoInfo(ctx context.Context, props string) ([]Record, error) {
	vals := params.Values{
		"action": "query",
		"meta":   "filerepoinfo",
	}
	vals.SetNonEmpty("friprop", props)
	env, err := w.Request(ctx, vals)
	if err != nil {
		return nil, err
	}
	var recs []Record
	if err := querySection(env, "repos", &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// CheckToken asks the server whether a token of the given kind is still
// valid.
func (w *Wiki) CheckToken(ctx context.Context, kind, token string) (bool, error) {
	env, err := w.PostRequest(ctx, params.Values{
		"action": "checktoken",
		"type":   kind,
		"token":  token,
	})
	if err != nil {
		return false, err
	}
	var result struct {
		Result string `json:"result"`
	}
	if err := decodeSection(env, "checktoken", &result); err != nil {
		return false, err
	}
	return result.Result == "valid", nil
}
