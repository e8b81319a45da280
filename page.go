package mwclient

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Kenny2github/mw-api-client/internal"
	pkgerrs "github.com/Kenny2github/mw-api-client/pkg/errors"
	"github.com/Kenny2github/mw-api-client/pkg/params"
)

// Page is a handle on one wiki page. Construct it with Wiki.Page (or
// receive it from an iterator); fields are zero until Info or Read fills
// them. A Page handle is not safe for concurrent use.
type Page struct {
	wiki *Wiki

	Title        string    `json:"title"`
	PageID       int64     `json:"pageid"`
	NS           int       `json:"ns"`
	Content      string    `json:"content"`
	Missing      Flag      `json:"missing"`
	Redirect     Flag      `json:"redirect"`
	New          Flag      `json:"new"`
	Invalid      Flag      `json:"invalid"`
	ContentModel string    `json:"contentmodel"`
	PageLanguage string    `json:"pagelanguage"`
	Touched      Timestamp `json:"touched"`
	LastRevID    int64     `json:"lastrevid"`
	Length       int64     `json:"length"`

	// Search results carry these instead of the info fields.
	Snippet   string    `json:"snippet"`
	Size      int64     `json:"size"`
	WordCount int       `json:"wordcount"`
	Timestamp Timestamp `json:"timestamp"`

	// Extra holds response members this struct has no field for.
	Extra map[string]json.RawMessage `json:"-"`

	// lastRead is the timestamp of the revision the last Read returned,
	// used by Edit's conflict guard. Zero means never read.
	lastRead time.Time
}

func (p *Page) String() string {
	return fmt.Sprintf("<Page %q>", p.Title)
}

// Info fetches prop=info for the page and merges it into the handle. The
// title the handle was created with is kept even if the server normalized
// it; normalized titles arrive in the record's other members.
func (p *Page) Info(ctx context.Context) error {
	env, err := p.wiki.Request(ctx, params.Values{
		"action": "query",
		"titles": p.Title,
		"prop":   "info",
		"inprop": "protection|url|talkid",
	})
	if err != nil {
		return err
	}
	rec, err := subjectRecord(env, "pages")
	if err != nil {
		return err
	}
	if p.Title != "" {
		delete(rec, "title")
	}
	return unmarshalRecord(rec, p)
}

// Read fetches the latest revision's content into p.Content and records its
// timestamp for Edit's conflict guard. A missing page yields an APIError
// with code "notfound".
func (p *Page) Read(ctx context.Context) (string, error) {
	env, err := p.wiki.Request(ctx, params.Values{
		"action":  "query",
		"titles":  p.Title,
		"prop":    "revisions",
		"rvprop":  "content|timestamp",
		"rvslots": "main",
		"rvlimit": "1",
	})
	if err != nil {
		return "", err
	}
	rec, err := subjectRecord(env, "pages")
	if err != nil {
		return "", err
	}
	if raw, ok := rec["missing"]; ok && !isJSONFalse(raw) {
		p.Missing = true
		return "", &pkgerrs.APIError{Code: "notfound", Info: "page " + p.Title + " does not exist"}
	}
	var revs []Record
	if raw, ok := rec["revisions"]; ok {
		if err := json.Unmarshal(raw, &revs); err != nil {
			return "", err
		}
	}
	if len(revs) == 0 {
		return "", &pkgerrs.APIError{Code: "notfound", Info: "page " + p.Title + " has no revisions"}
	}
	rev := revs[0]
	internal.NormalizeStar(internal.Record(rev), "content")
	content, ts, err := revisionContent(rev)
	if err != nil {
		return "", err
	}
	p.Content = content
	p.Missing = false
	p.lastRead = ts
	return content, nil
}

// revisionContent pulls content and timestamp out of a revision record,
// handling both the modern slots shape and the flat one.
func revisionContent(rev Record) (string, time.Time, error) {
	var content string
	if raw, ok := rev["slots"]; ok {
		var slots struct {
			Main struct {
				Content string `json:"content"`
				Star    string `json:"*"`
			} `json:"main"`
		}
		if err := json.Unmarshal(raw, &slots); err != nil {
			return "", time.Time{}, err
		}
		content = slots.Main.Content
		if content == "" {
			content = slots.Main.Star
		}
	} else if raw, ok := rev["content"]; ok {
		if err := json.Unmarshal(raw, &content); err != nil {
			return "", time.Time{}, err
		}
	}
	var ts time.Time
	if raw, ok := rev["timestamp"]; ok {
		var t Timestamp
		if err := json.Unmarshal(raw, &t); err != nil {
			return "", time.Time{}, err
		}
		ts = t.Time
	}
	return content, ts, nil
}

func isJSONFalse(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "false" || s == "null"
}

// EditOptions tunes Page.Edit.
type EditOptions struct {
	// SkipConflictCheck disables the pre-flight edit-conflict guard.
	SkipConflictCheck bool

	Minor      bool
	Bot        bool
	CreateOnly bool
	NoCreate   bool

	// Extra is merged into the edit request verbatim.
	Extra params.Values
}

// EditResult reports the outcome of a write.
type EditResult struct {
	Result       string    `json:"result"`
	PageID       int64     `json:"pageid"`
	Title        string    `json:"title"`
	NewRevID     int64     `json:"newrevid"`
	OldRevID     int64     `json:"oldrevid"`
	NewTimestamp Timestamp `json:"newtimestamp"`
	NoChange     Flag      `json:"nochange"`
	Extra        map[string]json.RawMessage
}

// Edit writes content to the page. Unless disabled via options, the write is
// guarded: if someone has saved a revision newer than the one this handle
// last Read, Edit returns an EditConflictError without touching the wiki. A
// page never read does not conflict. The guard is advisory; a writer can
// still slip in between the check and the save.
func (p *Page) Edit(ctx context.Context, content, summary string, opts *EditOptions) (*EditResult, error) {
	if opts == nil {
		opts = &EditOptions{}
	}
	if !opts.SkipConflictCheck && !p.lastRead.IsZero() {
		latest, err := p.latestTimestamp(ctx)
		if err != nil {
			return nil, err
		}
		if latest.After(p.lastRead) {
			return nil, &pkgerrs.EditConflictError{
				Title:    p.Title,
				ReadAt:   p.lastRead.UTC().Format(mwTimeLayout),
				LatestAt: latest.UTC().Format(mwTimeLayout),
			}
		}
	}
	vals := params.Values{
		"action": "edit",
		"title":  p.Title,
		"text":   content,
	}
	vals.SetNonEmpty("summary", summary)
	vals.SetBool("minor", opts.Minor)
	vals.SetBool("bot", opts.Bot)
	vals.SetBool("createonly", opts.CreateOnly)
	vals.SetBool("nocreate", opts.NoCreate)
	vals.Merge(opts.Extra)

	env, err := p.wiki.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	result := &EditResult{}
	if err := decodeSection(env, "edit", result); err != nil {
		return nil, err
	}
	p.Content = content
	p.Missing = false
	if !result.NewTimestamp.IsZero() {
		p.lastRead = result.NewTimestamp.Time
	}
	return result, nil
}

// latestTimestamp fetches the timestamp of the page's newest revision.
func (p *Page) latestTimestamp(ctx context.Context) (time.Time, error) {
	env, err := p.wiki.Request(ctx, params.Values{
		"action":  "query",
		"titles":  p.Title,
		"prop":    "revisions",
		"rvprop":  "timestamp",
		"rvlimit": "1",
	})
	if err != nil {
		return time.Time{}, err
	}
	rec, err := subjectRecord(env, "pages")
	if err != nil {
		return time.Time{}, err
	}
	var revs []struct {
		Timestamp Timestamp `json:"timestamp"`
	}
	if raw, ok := rec["revisions"]; ok {
		if err := json.Unmarshal(raw, &revs); err != nil {
			return time.Time{}, err
		}
	}
	if len(revs) == 0 {
		// Deleted since we read it; let the save (re)create it.
		return time.Time{}, nil
	}
	return revs[0].Timestamp.Time, nil
}

// Replace rewrites the page with every occurrence of old replaced by new.
// An empty summary gets a generated one.
func (p *Page) Replace(ctx context.Context, old, new, summary string, opts *EditOptions) (*EditResult, error) {
	content, err := p.Read(ctx)
	if err != nil {
		return nil, err
	}
	if summary == "" {
		summary = fmt.Sprintf("Replace %q with %q", old, new)
	}
	return p.Edit(ctx, strings.ReplaceAll(content, old, new), summary, opts)
}

// Substitute rewrites the page with every match of re replaced by repl
// (repl may use $1-style group references).
func (p *Page) Substitute(ctx context.Context, re *regexp.Regexp, repl, summary string, opts *EditOptions) (*EditResult, error) {
	content, err := p.Read(ctx)
	if err != nil {
		return nil, err
	}
	if summary == "" {
		summary = fmt.Sprintf("Substitute %s with %q", re, repl)
	}
	return p.Edit(ctx, re.ReplaceAllString(content, repl), summary, opts)
}

// Delete deletes the page.
func (p *Page) Delete(ctx context.Context, reason string) (Record, error) {
	vals := params.Values{
		"action": "delete",
		"title":  p.Title,
	}
	vals.SetNonEmpty("reason", reason)
	env, err := p.wiki.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "delete", &rec); err != nil {
		return nil, err
	}
	p.lastRead = time.Time{}
	return rec, nil
}

// Undelete restores the page's deleted revisions.
func (p *Page) Undelete(ctx context.Context, reason string) (Record, error) {
	vals := params.Values{
		"action": "undelete",
		"title":  p.Title,
	}
	vals.SetNonEmpty("reason", reason)
	env, err := p.wiki.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "undelete", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MoveOptions tunes Page.Move.
type MoveOptions struct {
	NoRedirect bool
	MoveTalk   bool
	Extra      params.Values
}

// Move renames the page. On success the handle's Title is updated.
func (p *Page) Move(ctx context.Context, newTitle, reason string, opts *MoveOptions) (Record, error) {
	vals := params.Values{
		"action": "move",
		"from":   p.Title,
		"to":     newTitle,
	}
	vals.SetNonEmpty("reason", reason)
	if opts != nil {
		vals.SetBool("noredirect", opts.NoRedirect)
		vals.SetBool("movetalk", opts.MoveTalk)
		vals.Merge(opts.Extra)
	}
	env, err := p.wiki.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "move", &rec); err != nil {
		return nil, err
	}
	p.Title = newTitle
	return rec, nil
}

// Protect changes the page's protection. protections is the API's
// pipe-joined action=level list ("edit=sysop|move=sysop"); expiry may be a
// timestamp, a relative duration, or "infinite".
func (p *Page) Protect(ctx context.Context, protections, expiry, reason string) (Record, error) {
	vals := params.Values{
		"action":      "protect",
		"title":       p.Title,
		"protections": protections,
	}
	vals.SetNonEmpty("expiry", expiry)
	vals.SetNonEmpty("reason", reason)
	env, err := p.wiki.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "protect", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Purge invalidates the server's render cache for the page.
func (p *Page) Purge(ctx context.Context) error {
	_, err := p.wiki.PostRequest(ctx, params.Values{
		"action": "purge",
		"titles": p.Title,
	})
	return err
}

// Rollback reverts the page's most recent edits, all of which must be by
// the same user. Rollback uses its own token kind.
func (p *Page) Rollback(ctx context.Context, summary string) (Record, error) {
	// The rollback token is bound to the page's last editor.
	env, err := p.wiki.Request(ctx, params.Values{
		"action":  "query",
		"titles":  p.Title,
		"prop":    "revisions",
		"rvprop":  "user",
		"rvlimit": "1",
	})
	if err != nil {
		return nil, err
	}
	rec, err := subjectRecord(env, "pages")
	if err != nil {
		return nil, err
	}
	var revs []struct {
		User string `json:"user"`
	}
	if raw, ok := rec["revisions"]; ok {
		if err := json.Unmarshal(raw, &revs); err != nil {
			return nil, err
		}
	}
	if len(revs) == 0 {
		return nil, &pkgerrs.APIError{Code: "notfound", Info: "page " + p.Title + " has no revisions"}
	}
	vals := params.Values{
		"action": "rollback",
		"title":  p.Title,
		"user":   revs[0].User,
	}
	vals.SetNonEmpty("summary", summary)
	out, err := p.wiki.postWithToken(ctx, "rollback", vals, nil)
	if err != nil {
		return nil, err
	}
	var result Record
	if err := decodeSection(out, "rollback", &result); err != nil {
		return nil, err
	}
	return result, nil
}

// CategoryInfo fetches prop=categoryinfo for a category page.
func (p *Page) CategoryInfo(ctx context.Context) (Record, error) {
	env, err := p.wiki.Request(ctx, params.Values{
		"action": "query",
		"titles": p.Title,
		"prop":   "categoryinfo",
	})
	if err != nil {
		return nil, err
	}
	rec, err := subjectRecord(env, "pages")
	if err != nil {
		return nil, err
	}
	var info Record
	if raw, ok := rec["categoryinfo"]; ok {
		if err := json.Unmarshal(raw, &info); err != nil {
			return nil, err
		}
	}
	return info, nil
}

// PageProps fetches prop=pageprops as a name-to-value map.
func (p *Page) PageProps(ctx context.Context) (map[string]string, error) {
	env, err := p.wiki.Request(ctx, params.Values{
		"action": "query",
		"titles": p.Title,
		"prop":   "pageprops",
	})
	if err != nil {
		return nil, err
	}
	rec, err := subjectRecord(env, "pages")
	if err != nil {
		return nil, err
	}
	props := map[string]string{}
	if raw, ok := rec["pageprops"]; ok {
		if err := json.Unmarshal(raw, &props); err != nil {
			return nil, err
		}
	}
	return props, nil
}

// propPager builds a pager over a prop= module scoped to this page.
func (p *Page) propPager(prop, prefix string, opts *ListOptions, starField string, extra params.Values) *internal.Pager {
	vals := params.Values{
		"action": "query",
		"prop":   prop,
		"titles": p.Title,
	}
	vals.Set(prefix+"limit", opts.limit(params.Max))
	vals.Merge(extra)
	vals.Merge(opts.extra())
	return p.wiki.listPager(vals, starField,
		internal.Key("query"), internal.Key("pages"), internal.Subject(), internal.Key(prop))
}

// Revisions walks the page's history, newest first unless "rvdir" says
// otherwise.
func (p *Page) Revisions(opts *ListOptions) *Iterator[*Revision] {
	pager := p.propPager("revisions", "rv", opts, "content", params.Values{
		"rvprop": "ids|timestamp|user|comment|flags",
	})
	return newIterator(pager, func(_ context.Context, rec internal.Record) (*Revision, error) {
		return newRevision(p.wiki, p, Record(rec))
	})
}

// DeletedRevisions walks the page's deleted history.
func (p *Page) DeletedRevisions(opts *ListOptions) *Iterator[*Revision] {
	pager := p.propPager("deletedrevisions", "drv", opts, "content", params.Values{
		"drvprop": "ids|timestamp|user|comment",
	})
	return newIterator(pager, func(_ context.Context, rec internal.Record) (*Revision, error) {
		return newRevision(p.wiki, p, Record(rec))
	})
}

// Backlinks enumerates pages linking here.
func (p *Page) Backlinks(opts *ListOptions) *Iterator[*Page] {
	vals := listValues("backlinks", "bl", opts, params.Max, params.Values{
		"bltitle": p.Title,
	})
	pager := p.wiki.listPager(vals, "", internal.Key("query"), internal.Key("backlinks"))
	return newIterator(pager, p.wiki.decodePage(opts.detail()))
}

// Redirects enumerates redirects pointing here.
func (p *Page) Redirects(opts *ListOptions) *Iterator[*Page] {
	pager := p.propPager("redirects", "rd", opts, "", nil)
	return newIterator(pager, p.wiki.decodePage(opts.detail()))
}

// Links enumerates wikilinks on the page.
func (p *Page) Links(opts *ListOptions) *Iterator[*Page] {
	pager := p.propPager("links", "pl", opts, "", nil)
	return newIterator(pager, p.wiki.decodePage(opts.detail()))
}

// ExtLinks enumerates external links on the page. Each record's URL arrives
// in the legacy "*" member, normalized to "url".
func (p *Page) ExtLinks(opts *ListOptions) *Iterator[Record] {
	pager := p.propPager("extlinks", "el", opts, "url", nil)
	return newIterator(pager, decodeRecord)
}

// InterwikiLinks enumerates interwiki links on the page.
func (p *Page) InterwikiLinks(opts *ListOptions) *Iterator[Record] {
	pager := p.propPager("iwlinks", "iw", opts, "title", nil)
	return newIterator(pager, decodeRecord)
}

// LanguageLinks enumerates language links on the page.
func (p *Page) LanguageLinks(opts *ListOptions) *Iterator[Record] {
	pager := p.propPager("langlinks", "ll", opts, "title", nil)
	return newIterator(pager, decodeRecord)
}

// Transclusions enumerates pages that transclude this page.
func (p *Page) Transclusions(opts *ListOptions) *Iterator[*Page] {
	vals := listValues("embeddedin", "ei", opts, params.Max, params.Values{
		"eititle": p.Title,
	})
	pager := p.wiki.listPager(vals, "", internal.Key("query"), internal.Key("embeddedin"))
	return newIterator(pager, p.wiki.decodePage(opts.detail()))
}

// Templates enumerates templates used on the page.
func (p *Page) Templates(opts *ListOptions) *Iterator[*Page] {
	pager := p.propPager("templates", "tl", opts, "", nil)
	return newIterator(pager, p.wiki.decodePage(opts.detail()))
}

// CategoryMembers enumerates members of a category page.
func (p *Page) CategoryMembers(opts *ListOptions) *Iterator[*Page] {
	vals := listValues("categorymembers", "cm", opts, params.Max, params.Values{
		"cmtitle": p.Title,
	})
	pager := p.wiki.listPager(vals, "", internal.Key("query"), internal.Key("categorymembers"))
	return newIterator(pager, p.wiki.decodePage(opts.detail()))
}

// ImageUsage enumerates pages using a file page.
func (p *Page) ImageUsage(opts *ListOptions) *Iterator[*Page] {
	vals := listValues("imageusage", "iu", opts, params.Max, params.Values{
		"iutitle": p.Title,
	})
	pager := p.wiki.listPager(vals, "", internal.Key("query"), internal.Key("imageusage"))
	return newIterator(pager, p.wiki.decodePage(opts.detail()))
}

// FileUsage enumerates pages using this file via prop=fileusage.
func (p *Page) FileUsage(opts *ListOptions) *Iterator[*Page] {
	pager := p.propPager("fileusage", "fu", opts, "", nil)
	return newIterator(pager, p.wiki.decodePage(opts.detail()))
}

// DuplicateFiles enumerates files duplicating this one.
func (p *Page) DuplicateFiles(opts *ListOptions) *Iterator[Record] {
	pager := p.propPager("duplicatefiles", "df", opts, "", nil)
	return newIterator(pager, decodeRecord)
}

// Images enumerates files used on the page.
func (p *Page) Images(opts *ListOptions) *Iterator[*Page] {
	pager := p.propPager("images", "im", opts, "", nil)
	return newIterator(pager, p.wiki.decodePage(opts.detail()))
}

// Categories enumerates categories the page is in.
func (p *Page) Categories(opts *ListOptions) *Iterator[*Page] {
	pager := p.propPager("categories", "cl", opts, "", nil)
	return newIterator(pager, p.wiki.decodePage(opts.detail()))
}

// Contributors enumerates registered users who edited the page.
func (p *Page) Contributors(opts *ListOptions) *Iterator[*User] {
	pager := p.propPager("contributors", "pc", opts, "", nil)
	return newIterator(pager, func(_ context.Context, rec internal.Record) (*User, error) {
		u := &User{wiki: p.wiki}
		if err := unmarshalRecord(Record(rec), u); err != nil {
			return nil, err
		}
		return u, nil
	})
}
