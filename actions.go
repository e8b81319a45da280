package mwclient

import (
	"context"
	"encoding/json"
	"io"

	pkgerrs "github.com/Kenny2github/mw-api-client/pkg/errors"
	"github.com/Kenny2github/mw-api-client/pkg/params"
)

// Compare diffs two pages or revisions. from and to take titles; use Extra
// in a raw Request for revision IDs or relative targets. The rendered diff
// HTML is returned.
func (w *Wiki) Compare(ctx context.Context, fromTitle, toTitle string) (string, error) {
	env, err := w.Request(ctx, params.Values{
		"action":    "compare",
		"fromtitle": fromTitle,
		"totitle":   toTitle,
	})
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

// ExpandTemplates expands the templates in text as if it were saved on the
// named title.
func (w *Wiki) ExpandTemplates(ctx context.Context, text, title string) (string, error) {
	vals := params.Values{
		"action": "expandtemplates",
		"text":   text,
		"prop":   "wikitext",
	}
	vals.SetNonEmpty("title", title)
	env, err := w.Request(ctx, vals)
	if err != nil {
		return "", err
	}
	var result struct {
		Wikitext string `json:"wikitext"`
	}
	if err := decodeSection(env, "expandtemplates", &result); err != nil {
		return "", err
	}
	return result.Wikitext, nil
}

// ParseResult is the outcome of action=parse, with the rendered HTML
// normalized out of the legacy "*" member.
type ParseResult struct {
	Title  string `json:"title"`
	PageID int64  `json:"pageid"`
	HTML   string `json:"-"`
	Record Record `json:"-"`
}

// Parse renders wikitext or a stored page to HTML. Exactly one of text and
// title should be non-empty.
func (w *Wiki) Parse(ctx context.Context, text, title string) (*ParseResult, error) {
	vals := params.Values{"action": "parse"}
	if text != "" {
		vals.Set("text", text)
		vals.Set("contentmodel", "wikitext")
		vals.SetNonEmpty("title", title)
	} else {
		vals.Set("page", title)
	}
	env, err := w.Request(ctx, vals)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "parse", &rec); err != nil {
		return nil, err
	}
	result := &ParseResult{Record: rec}
	if err := unmarshalRecord(rec, result); err != nil {
		return nil, err
	}
	if raw, ok := rec["text"]; ok {
		// Older servers nest the HTML under text["*"]; newer ones return a
		// plain string.
		if err := json.Unmarshal(raw, &result.HTML); err != nil {
			var text struct {
				Star string `json:"*"`
			}
			if err := json.Unmarshal(raw, &text); err != nil {
				return nil, err
			}
			result.HTML = text.Star
		}
	}
	return result, nil
}

// UploadOptions tunes Wiki.Upload.
type UploadOptions struct {
	Comment        string
	Text           string
	IgnoreWarnings bool
	Extra          params.Values
}

// Upload uploads a file. Exactly one of file and url must be set: file
// streams a local reader through a multipart request, url asks the server
// to fetch the source itself.
func (w *Wiki) Upload(ctx context.Context, filename string, file io.Reader, url string, opts *UploadOptions) (Record, error) {
	if (file == nil) == (url == "") {
		return nil, &pkgerrs.ConfigError{Field: "file", Message: "exactly one of file and url must be set"}
	}
	vals := params.Values{
		"action":   "upload",
		"filename": filename,
	}
	var files map[string]io.Reader
	if file != nil {
		files = map[string]io.Reader{"file": file}
	} else {
		vals.Set("url", url)
	}
	if opts != nil {
		vals.SetNonEmpty("comment", opts.Comment)
		vals.SetNonEmpty("text", opts.Text)
		vals.SetBool("ignorewarnings", opts.IgnoreWarnings)
		vals.Merge(opts.Extra)
	}
	env, err := w.postWithToken(ctx, "csrf", vals, files)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "upload", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Import imports pages from an exported XML dump.
func (w *Wiki) Import(ctx context.Context, xml io.Reader, summary string) (Record, error) {
	vals := params.Values{"action": "import"}
	vals.SetNonEmpty("summary", summary)
	env, err := w.postWithToken(ctx, "csrf", vals, map[string]io.Reader{"xml": xml})
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "import", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// CreateAccount registers a new account with the simple username/password
// flow.
func (w *Wiki) CreateAccount(ctx context.Context, username, password, email, reason string) (Record, error) {
	token, err := w.Token(ctx, "createaccount")
	if err != nil {
		return nil, err
	}
	vals := params.Values{
		"action":          "createaccount",
		"username":        username,
		"password":        password,
		"retype":          password,
		"createtoken":     token,
		"createreturnurl": w.apiURL,
	}
	vals.SetNonEmpty("email", email)
	vals.SetNonEmpty("reason", reason)
	env, err := w.PostRequest(ctx, vals)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "createaccount", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ManageTags creates, deletes, activates, or deactivates a change tag.
// operation is one of the API's manage verbs.
func (w *Wiki) ManageTags(ctx context.Context, operation, tag, reason string) (Record, error) {
	vals := params.Values{
		"action":    "managetags",
		"operation": operation,
		"tag":       tag,
	}
	vals.SetNonEmpty("reason", reason)
	env, err := w.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "managetags", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MergeHistory merges the history of from into to, up to the optional
// timestamp.
func (w *Wiki) MergeHistory(ctx context.Context, from, to, timestamp, reason string) (Record, error) {
	vals := params.Values{
		"action": "mergehistory",
		"from":   from,
		"to":     to,
	}
	vals.SetNonEmpty("timestamp", timestamp)
	vals.SetNonEmpty("reason", reason)
	env, err := w.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "mergehistory", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}
