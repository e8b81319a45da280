package mwclient

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Kenny2github/mw-api-client/internal"
	"github.com/Kenny2github/mw-api-client/pkg/params"
)

// ListOptions tunes a wiki-level enumeration. The zero value (or a nil
// pointer) asks for the wrapper's default limit and the session's detail
// policy.
type ListOptions struct {
	// Limit is the per-request ask, either a decimal count or params.Max.
	// Counts above the identity's server ceiling are split across requests.
	Limit string

	// Detail controls eager page-info loading for iterators that yield
	// page handles.
	Detail Detail

	// Extra is merged into the request verbatim, for module parameters this
	// package has no field for (prefixes included, e.g. "apfilterredir").
	Extra params.Values
}

func (o *ListOptions) limit(def string) string {
	if o != nil && o.Limit != "" {
		return o.Limit
	}
	return def
}

func (o *ListOptions) detail() Detail {
	if o == nil {
		return DetailSession
	}
	return o.Detail
}

func (o *ListOptions) extra() params.Values {
	if o == nil {
		return nil
	}
	return o.Extra
}

// listValues assembles the query parameters for a list= module.
func listValues(module, prefix string, opts *ListOptions, defLimit string, vals params.Values) params.Values {
	v := params.Values{
		"action": "query",
		"list":   module,
	}
	v.Set(prefix+"limit", opts.limit(defLimit))
	v.Merge(vals)
	v.Merge(opts.extra())
	return v
}

func (w *Wiki) listPager(vals params.Values, starField string, path ...internal.PathPart) *internal.Pager {
	return internal.NewPager(internal.PagerConfig{
		Caller:     w.tr,
		Negotiator: w.neg,
		Values:     vals,
		Path:       path,
		StarField:  starField,
	})
}

// decodePage builds the per-record decoder for iterators that yield page
// handles.
func (w *Wiki) decodePage(detail Detail) func(context.Context, internal.Record) (*Page, error) {
	return func(ctx context.Context, rec internal.Record) (*Page, error) {
		p := &Page{wiki: w}
		if err := unmarshalRecord(rec, p); err != nil {
			return nil, err
		}
		if w.shouldFetchDetail(detail) {
			if err := p.Info(ctx); err != nil {
				return nil, err
			}
		}
		return p, nil
	}
}

func decodeRecord(_ context.Context, rec internal.Record) (Record, error) {
	return Record(rec), nil
}

// AllPages enumerates every page, optionally restricted by namespace
// ("apnamespace") or prefix ("apprefix") via Extra.
func (w *Wiki) AllPages(opts *ListOptions) *Iterator[*Page] {
	vals := listValues("allpages", "ap", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("allpages"))
	return newIterator(pager, w.decodePage(opts.detail()))
}

// AllCategories enumerates category names. The server reports each name in
// the legacy "*" member, surfaced here as the handle's Title.
func (w *Wiki) AllCategories(opts *ListOptions) *Iterator[*Page] {
	vals := listValues("allcategories", "ac", opts, params.Max, nil)
	pager := w.listPager(vals, "title", internal.Key("query"), internal.Key("allcategories"))
	return newIterator(pager, w.decodePage(opts.detail()))
}

// AllImages enumerates file pages.
func (w *Wiki) AllImages(opts *ListOptions) *Iterator[*Page] {
	vals := listValues("allimages", "ai", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("allimages"))
	return newIterator(pager, w.decodePage(opts.detail()))
}

// AllLinks enumerates unique link targets as raw records (ns, title, and
// fromid when requested).
func (w *Wiki) AllLinks(opts *ListOptions) *Iterator[Record] {
	vals := listValues("alllinks", "al", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("alllinks"))
	return newIterator(pager, decodeRecord)
}

// AllRedirects enumerates redirect sources.
func (w *Wiki) AllRedirects(opts *ListOptions) *Iterator[*Page] {
	vals := listValues("allredirects", "ar", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("allredirects"))
	return newIterator(pager, w.decodePage(opts.detail()))
}

// AllTransclusions enumerates pages transcluded at least once.
func (w *Wiki) AllTransclusions(opts *ListOptions) *Iterator[*Page] {
	vals := listValues("alltransclusions", "at", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("alltransclusions"))
	return newIterator(pager, w.decodePage(opts.detail()))
}

// AllFileUsages enumerates file usage records.
func (w *Wiki) AllFileUsages(opts *ListOptions) *Iterator[Record] {
	vals := listValues("allfileusages", "af", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("allfileusages"))
	return newIterator(pager, decodeRecord)
}

// AllUsers enumerates registered users.
func (w *Wiki) AllUsers(opts *ListOptions) *Iterator[*User] {
	vals := listValues("allusers", "au", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("allusers"))
	return newIterator(pager, func(_ context.Context, rec internal.Record) (*User, error) {
		u := &User{wiki: w}
		if err := unmarshalRecord(rec, u); err != nil {
			return nil, err
		}
		return u, nil
	})
}

// AllMessages enumerates interface messages. Each record carries "name" and,
// after normalization of the legacy "*" member, "content".
func (w *Wiki) AllMessages(messages string, opts *ListOptions) *Iterator[Record] {
	vals := params.Values{
		"action": "query",
		"meta":   "allmessages",
	}
	vals.SetNonEmpty("ammessages", messages)
	vals.Merge(opts.extra())
	pager := w.listPager(vals, "content", internal.Key("query"), internal.Key("allmessages"))
	return newIterator(pager, decodeRecord)
}

// decodeRevisionList flattens one page record into its revisions, each
// bound to a handle for the containing page.
func (w *Wiki) decodeRevisionList(listKey string) func(context.Context, internal.Record) ([]*Revision, error) {
	return func(_ context.Context, rec internal.Record) ([]*Revision, error) {
		raw, ok := rec[listKey]
		if !ok {
			return nil, nil
		}
		var revRecs []internal.Record
		if err := json.Unmarshal(raw, &revRecs); err != nil {
			return nil, err
		}
		pageRec := Record{}
		for k, v := range rec {
			if k != listKey {
				pageRec[k] = v
			}
		}
		page := &Page{wiki: w}
		if err := unmarshalRecord(pageRec, page); err != nil {
			return nil, err
		}
		revs := make([]*Revision, 0, len(revRecs))
		for _, rr := range revRecs {
			rev, err := newRevision(w, page, Record(rr))
			if err != nil {
				return nil, err
			}
			revs = append(revs, rev)
		}
		return revs, nil
	}
}

// AllRevisions walks every revision on the wiki. The server groups
// revisions under their page; the iterator flattens that shape.
func (w *Wiki) AllRevisions(opts *ListOptions) *Iterator[*Revision] {
	vals := listValues("allrevisions", "arv", opts, params.Max, params.Values{
		"arvprop": "ids|timestamp|user|comment|content",
	})
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("allrevisions"))
	return newFlatIterator(pager, w.decodeRevisionList("revisions"))
}

// AllDeletedRevisions walks deleted revisions, grouped and flattened the
// same way as AllRevisions.
func (w *Wiki) AllDeletedRevisions(opts *ListOptions) *Iterator[*Revision] {
	vals := listValues("alldeletedrevisions", "adr", opts, params.Max, params.Values{
		"adrprop": "ids|timestamp|user|comment|content",
	})
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("alldeletedrevisions"))
	return newFlatIterator(pager, w.decodeRevisionList("revisions"))
}

// RecentChanges enumerates the recent changes feed. rcprop is a pipe-joined
// property list; empty asks for the server default.
func (w *Wiki) RecentChanges(rcprop string, opts *ListOptions) *Iterator[*RecentChange] {
	vals := listValues("recentchanges", "rc", opts, "50", nil)
	vals.SetNonEmpty("rcprop", rcprop)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("recentchanges"))
	return newIterator(pager, func(_ context.Context, rec internal.Record) (*RecentChange, error) {
		rc := &RecentChange{wiki: w}
		if err := unmarshalRecord(rec, rc); err != nil {
			return nil, err
		}
		return rc, nil
	})
}

// Search runs a fulltext search. Yielded handles carry the search-result
// fields (Snippet, WordCount, Score) alongside the usual title data.
func (w *Wiki) Search(term string, opts *ListOptions) *Iterator[*Page] {
	vals := listValues("search", "sr", opts, "500", params.Values{
		"srsearch": term,
		"srprop":   "size|wordcount|timestamp|snippet",
	})
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("search"))
	return newIterator(pager, w.decodePage(opts.detail()))
}

// Logevents enumerates the public log. letype filters the log kind ("block",
// "delete", ...); empty walks all logs.
func (w *Wiki) Logevents(letype string, opts *ListOptions) *Iterator[Record] {
	vals := listValues("logevents", "le", opts, params.Max, nil)
	vals.SetNonEmpty("letype", letype)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("logevents"))
	return newIterator(pager, decodeRecord)
}

// Blocks enumerates active blocks.
func (w *Wiki) Blocks(opts *ListOptions) *Iterator[Record] {
	vals := listValues("blocks", "bk", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("blocks"))
	return newIterator(pager, decodeRecord)
}

// Tags enumerates change tags defined on the wiki.
func (w *Wiki) Tags(opts *ListOptions) *Iterator[*Tag] {
	vals := listValues("tags", "tg", opts, params.Max, params.Values{
		"tgprop": "displayname|description|hitcount|defined|source|active",
	})
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("tags"))
	return newIterator(pager, func(_ context.Context, rec internal.Record) (*Tag, error) {
		t := &Tag{wiki: w}
		if err := unmarshalRecord(rec, t); err != nil {
			return nil, err
		}
		return t, nil
	})
}

// ProtectedTitles enumerates titles protected from creation.
func (w *Wiki) ProtectedTitles(opts *ListOptions) *Iterator[*Page] {
	vals := listValues("protectedtitles", "pt", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("protectedtitles"))
	return newIterator(pager, w.decodePage(opts.detail()))
}

// Random yields random pages. namespace restricts the draw ("0" for
// articles); empty draws from all namespaces.
func (w *Wiki) Random(namespace string, opts *ListOptions) *Iterator[*Page] {
	vals := listValues("random", "rn", opts, params.Max, nil)
	vals.SetNonEmpty("rnnamespace", namespace)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("random"))
	return newIterator(pager, w.decodePage(opts.detail()))
}

// ExtURLUsage enumerates pages linking to external URLs matching query
// parameters supplied via Extra ("euquery", "euprotocol").
func (w *Wiki) ExtURLUsage(opts *ListOptions) *Iterator[*Page] {
	vals := listValues("exturlusage", "eu", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("exturlusage"))
	return newIterator(pager, w.decodePage(opts.detail()))
}

// PagesWithProp enumerates pages carrying the named page property.
func (w *Wiki) PagesWithProp(prop string, opts *ListOptions) *Iterator[*Page] {
	vals := listValues("pageswithprop", "pwp", opts, params.Max, params.Values{
		"pwppropname": prop,
		"pwpprop":     "ids|title|value",
	})
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("pageswithprop"))
	return newIterator(pager, w.decodePage(opts.detail()))
}

// PagePropNames enumerates the property names in use on the wiki.
func (w *Wiki) PagePropNames(opts *ListOptions) *Iterator[Record] {
	vals := listValues("pagepropnames", "ppn", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("pagepropnames"))
	return newIterator(pager, decodeRecord)
}

// Filearchive enumerates deleted files.
func (w *Wiki) Filearchive(opts *ListOptions) *Iterator[Record] {
	vals := listValues("filearchive", "fa", opts, params.Max, nil)
	pager := w.listPager(vals, "", internal.Key("query"), internal.Key("filearchive"))
	return newIterator(pager, decodeRecord)
}

// Users fetches named users in one call, without pagination.
func (w *Wiki) Users(ctx context.Context, names []string, usprop string) ([]*User, error) {
	vals := params.Values{
		"action":  "query",
		"list":    "users",
		"ususers": strings.Join(names, "|"),
	}
	vals.SetNonEmpty("usprop", usprop)
	env, err := w.Request(ctx, vals)
	if err != nil {
		return nil, err
	}
	var recs []Record
	if err := querySection(env, "users", &recs); err != nil {
		return nil, err
	}
	users := make([]*User, 0, len(recs))
	for _, rec := range recs {
		u := &User{wiki: w}
		if err := unmarshalRecord(rec, u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}
