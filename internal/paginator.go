package internal

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/Kenny2github/mw-api-client/pkg/params"
)

// starKey is the reserved response field the server overloads with a
// record's textual payload (format v1). Paginator normalization renames it
// onto a stable field before decoding so "display title" and "page content"
// uses can't collide.
const starKey = "*"

// Record is one raw, normalized element of a paginated response.
type Record map[string]json.RawMessage

// PathPart is one step of the walk from a response envelope down to the
// page's record list.
type PathPart struct {
	key     string
	subject bool
}

// Key walks into the named object member.
func Key(k string) PathPart { return PathPart{key: k} }

// Subject takes the single value of a one-entry object, handling the
// query.pages shape where the sole subject is keyed by its numeric id.
func Subject() PathPart { return PathPart{subject: true} }

// PagerConfig describes one pagination run.
type PagerConfig struct {
	Caller     Caller
	Negotiator *Negotiator
	// Values is the initial request envelope. The pager owns a clone.
	Values params.Values
	// Path locates the record list inside each response envelope.
	Path []PathPart
	// StarField is the stable name the reserved "*" field is renamed to.
	// Empty means "content"; the allcategories family uses "title".
	StarField string
	// Post issues the page fetches as POST instead of GET. Rarely needed.
	Post bool
}

// Pager drives the server's continuation protocol: each NextPage call is one
// round trip whose records are returned after normalization. State advances
// in place, so a pager is single-use and not restartable; a fresh fetch
// starts over. It is not safe for concurrent use.
type Pager struct {
	caller    Caller
	neg       *Negotiator
	vals      params.Values
	path      []PathPart
	starField string
	post      bool

	limitKey string
	sentinel bool
	done     bool
}

// NewPager prepares a pagination run. The limit key is the envelope key
// ending in "limit"; when it is absent or carries the "max" sentinel the
// negotiator is never consulted.
func NewPager(cfg PagerConfig) *Pager {
	vals := cfg.Values.Clone()
	limitKey, hasLimit := vals.LimitKey()
	starField := cfg.StarField
	if starField == "" {
		starField = "content"
	}
	return &Pager{
		caller:    cfg.Caller,
		neg:       cfg.Negotiator,
		vals:      vals,
		path:      cfg.Path,
		starField: starField,
		post:      cfg.Post,
		limitKey:  limitKey,
		sentinel:  !hasLimit || vals.Get(limitKey) == params.Max,
	}
}

// Done reports whether the run is exhausted. NextPage on an exhausted pager
// returns no records and no error.
func (p *Pager) Done() bool { return p.done }

// NextPage performs one round trip and returns that page's records in server
// order. An unresolvable path (the wiki had nothing to report) is an empty
// final page, not an error. Any transport or API error terminates the run.
//
// Termination rules: with the "max" sentinel the run continues for as long
// as the server hands back a continuation token. With a numeric limit the
// run additionally stops as soon as a page fills the remaining ask, even if
// a token is present, since the caller's total cap is met; a page cut short
// by the server's ceiling continues with the ask shrunk by that ceiling.
func (p *Pager) NextPage(ctx context.Context) ([]Record, error) {
	if p.done {
		return nil, nil
	}

	env, err := p.caller.Call(ctx, p.vals, p.post, nil)
	if err != nil {
		p.done = true
		return nil, err
	}

	rawList, ok, err := walkPath(env, p.path)
	if err != nil {
		p.done = true
		return nil, err
	}
	if !ok {
		p.done = true
		return nil, nil
	}

	records := make([]Record, 0, len(rawList))
	for _, raw := range rawList {
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			p.done = true
			return nil, err
		}
		NormalizeStar(rec, p.starField)
		records = append(records, rec)
	}

	if !p.sentinel {
		asked, err := strconv.Atoi(p.vals.Get(p.limitKey))
		if err == nil && len(records) >= asked {
			p.done = true
			return records, nil
		}
	}

	contRaw, ok := env["continue"]
	if !ok {
		p.done = true
		return records, nil
	}
	cont, err := continuationValues(contRaw)
	if err != nil {
		p.done = true
		return records, err
	}

	if !p.sentinel {
		next, err := p.neg.Negotiate(ctx, p.vals)
		if err != nil {
			p.done = true
			return records, err
		}
		p.vals.Merge(cont)
		p.vals.Set(p.limitKey, next)
	} else {
		p.vals.Merge(cont)
	}
	return records, nil
}

// NormalizeStar renames the reserved "*" field of a record onto field.
func NormalizeStar(rec Record, field string) {
	if raw, ok := rec[starKey]; ok {
		rec[field] = raw
		delete(rec, starKey)
	}
}

// walkPath follows the declared path into the envelope. The second return is
// false when a key along the way is absent, which the engine treats as "zero
// records, no continuation".
func walkPath(env Envelope, path []PathPart) ([]json.RawMessage, bool, error) {
	node := map[string]json.RawMessage(env)
	var current json.RawMessage
	for i, part := range path {
		var raw json.RawMessage
		if part.subject {
			if len(node) == 0 {
				return nil, false, nil
			}
			for _, v := range node {
				raw = v
				break
			}
		} else {
			var ok bool
			raw, ok = node[part.key]
			if !ok {
				return nil, false, nil
			}
		}
		current = raw
		if i < len(path)-1 {
			node = nil
			if err := json.Unmarshal(raw, &node); err != nil {
				return nil, false, err
			}
		}
	}

	var list []json.RawMessage
	if err := json.Unmarshal(current, &list); err != nil {
		return nil, false, err
	}
	return list, true, nil
}

// continuationValues flattens the server's continuation object into request
// parameters. String values merge verbatim; numbers and other scalars merge
// as their JSON text.
func continuationValues(raw json.RawMessage) (params.Values, error) {
	var cont map[string]json.RawMessage
	if err := json.Unmarshal(raw, &cont); err != nil {
		return nil, err
	}
	vals := params.New()
	for k, v := range cont {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			vals.Set(k, s)
			continue
		}
		vals.Set(k, string(v))
	}
	return vals, nil
}
