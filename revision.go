package mwclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	pkgerrs "github.com/Kenny2github/mw-api-client/pkg/errors"
	"github.com/Kenny2github/mw-api-client/pkg/params"
)

// Revision is one revision of a page. Content is loaded lazily: if the
// record the handle was built from carried content, Read returns it without
// a network call; otherwise the first Read fetches and caches it.
type Revision struct {
	wiki *Wiki
	page *Page

	RevID     int64     `json:"revid"`
	ParentID  int64     `json:"parentid"`
	User      string    `json:"user"`
	UserID    int64     `json:"userid"`
	Timestamp Timestamp `json:"timestamp"`
	Comment   string    `json:"comment"`
	Minor     Flag      `json:"minor"`
	Anon      Flag      `json:"anon"`
	SHA1      string    `json:"sha1"`
	RevSize   int64     `json:"size"`
	Tags      []string  `json:"tags"`

	Extra map[string]json.RawMessage `json:"-"`

	content        string
	contentFetched bool
}

// newRevision builds a revision handle from a response record, capturing
// content when the record already has it.
func newRevision(w *Wiki, page *Page, rec Record) (*Revision, error) {
	r := &Revision{wiki: w, page: page}
	content, _, err := revisionContent(rec)
	if err != nil {
		return nil, err
	}
	if _, ok := rec["content"]; ok {
		r.content = content
		r.contentFetched = true
	} else if _, ok := rec["slots"]; ok {
		r.content = content
		r.contentFetched = true
	}
	delete(rec, "content")
	delete(rec, "slots")
	if err := unmarshalRecord(rec, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Page returns the page this revision belongs to, or nil for revisions
// from site-wide walks that carried no page context.
func (r *Revision) Page() *Page { return r.page }

func (r *Revision) String() string {
	return fmt.Sprintf("<Revision %d>", r.RevID)
}

// Read returns the revision's wikitext, fetching it on first use.
func (r *Revision) Read(ctx context.Context) (string, error) {
	if r.contentFetched {
		return r.content, nil
	}
	env, err := r.wiki.Request(ctx, params.Values{
		"action":  "query",
		"revids":  strconv.FormatInt(r.RevID, 10),
		"prop":    "revisions",
		"rvprop":  "content",
		"rvslots": "main",
	})
	if err != nil {
		return "", err
	}
	rec, err := subjectRecord(env, "pages")
	if err != nil {
		return "", err
	}
	var revs []Record
	if raw, ok := rec["revisions"]; ok {
		if err := json.Unmarshal(raw, &revs); err != nil {
			return "", err
		}
	}
	if len(revs) == 0 {
		return "", &pkgerrs.APIError{Code: "notfound", Info: fmt.Sprintf("revision %d not found", r.RevID)}
	}
	content, _, err := revisionContent(revs[0])
	if err != nil {
		return "", err
	}
	r.content = content
	r.contentFetched = true
	return content, nil
}

// Diff compares this revision against another. to selects the other side:
// a revision ID as decimal, or the API's relative keywords "prev", "next",
// "cur". The rendered diff HTML is returned.
func (r *Revision) Diff(ctx context.Context, to string) (string, error) {
	vals := params.Values{
		"action":  "compare",
		"fromrev": strconv.FormatInt(r.RevID, 10),
	}
	switch to {
	case "prev", "next", "cur":
		vals.Set("torelative", to)
	default:
		vals.Set("torev", to)
	}
	env, err := r.wiki.Request(ctx, vals)
	if err != nil {
		return "", err
	}
	var result struct {
		Body string `json:"body"`
		Star string `json:"*"`
	}
	if err := decodeSection(env, "compare", &result); err != nil {
		return "", err
	}
	if result.Body != "" {
		return result.Body, nil
	}
	return result.Star, nil
}

// Patrol marks the revision as patrolled.
func (r *Revision) Patrol(ctx context.Context) error {
	_, err := r.wiki.postWithToken(ctx, "patrol", params.Values{
		"action": "patrol",
		"revid":  strconv.FormatInt(r.RevID, 10),
	}, nil)
	return err
}

// Purge invalidates the render cache of the revision's page.
func (r *Revision) Purge(ctx context.Context) error {
	if r.page == nil {
		return &pkgerrs.ConfigError{Field: "page", Message: "revision has no page context"}
	}
	return r.page.Purge(ctx)
}

// Delete hides parts of the revision. what is the pipe-joined revdelete
// target list ("content|comment|user").
func (r *Revision) Delete(ctx context.Context, what, reason string) (Record, error) {
	vals := params.Values{
		"action": "revisiondelete",
		"type":   "revision",
		"ids":    strconv.FormatInt(r.RevID, 10),
		"hide":   what,
	}
	vals.SetNonEmpty("reason", reason)
	env, err := r.wiki.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "revisiondelete", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
