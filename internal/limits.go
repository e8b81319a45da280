package internal

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	pkgerrs "github.com/Kenny2github/mw-api-client/pkg/errors"
	"github.com/Kenny2github/mw-api-client/pkg/params"
)

// Negotiator resolves the server's per-module page-size ceilings and shrinks
// a numeric limit between continuation rounds so a caller-imposed result cap
// is honored across pages.
//
// Ceilings are permission-derived and stable for a given identity, so they
// are cached per request family for the session's lifetime; Reset drops the
// cache when the identity changes.
type Negotiator struct {
	caller Caller
	// highLimits reports whether the current identity holds the
	// "apihighlimits" right, selecting the elevated ceiling.
	highLimits func() bool

	mu       sync.Mutex
	ceilings map[string]int
}

// NewNegotiator returns a negotiator that issues paraminfo introspection
// calls through caller.
func NewNegotiator(caller Caller, highLimits func() bool) *Negotiator {
	if highLimits == nil {
		highLimits = func() bool { return false }
	}
	return &Negotiator{
		caller:     caller,
		highLimits: highLimits,
		ceilings:   make(map[string]int),
	}
}

// Reset drops all cached ceilings. Called when the authenticated identity
// changes, since ceilings depend on the identity's rights.
func (n *Negotiator) Reset() {
	n.mu.Lock()
	n.ceilings = make(map[string]int)
	n.mu.Unlock()
}

// Negotiate returns the limit value the next continuation round should
// request. The "max" sentinel is returned unchanged without any server
// round trip. A numeric limit v becomes max(v-ceiling, 1): the ceiling is
// how many records the server hands out per page, so v-ceiling is what
// remains of the caller's cap after the page just fetched.
func (n *Negotiator) Negotiate(ctx context.Context, vals params.Values) (string, error) {
	limitKey, ok := vals.LimitKey()
	if !ok {
		return params.Max, nil
	}
	current := vals.Get(limitKey)
	if current == params.Max {
		return current, nil
	}
	value, err := strconv.Atoi(current)
	if err != nil {
		return "", &pkgerrs.LimitTypeError{Key: limitKey, Value: current}
	}

	ceiling, err := n.ceiling(ctx, vals)
	if err != nil {
		return "", err
	}
	remaining := value - ceiling
	if remaining < 1 {
		remaining = 1
	}
	return strconv.Itoa(remaining), nil
}

type paramInfoResponse struct {
	ParamInfo struct {
		Modules []struct {
			Prefix     string `json:"prefix"`
			Parameters []struct {
				Name    string `json:"name"`
				Max     int    `json:"max"`
				HighMax int    `json:"highmax"`
			} `json:"parameters"`
		} `json:"modules"`
	} `json:"paraminfo"`
}

// ceiling fetches (or returns the cached) page-size ceiling for the request
// family of vals: its action combined with whichever of list/prop/meta is
// present.
func (n *Negotiator) ceiling(ctx context.Context, vals params.Values) (int, error) {
	family := vals.Get("action")
	for _, key := range []string{"list", "prop", "meta"} {
		if sub := vals.Get(key); sub != "" {
			family += "+" + sub
			break
		}
	}

	n.mu.Lock()
	cached, ok := n.ceilings[family]
	n.mu.Unlock()
	if ok {
		return cached, nil
	}

	env, err := n.caller.Call(ctx, params.Values{
		"action":  "paraminfo",
		"modules": family,
	}, false, nil)
	if err != nil {
		return 0, err
	}

	blob, err := json.Marshal(env)
	if err != nil {
		return 0, err
	}
	var info paramInfoResponse
	if err := json.Unmarshal(blob, &info); err != nil {
		return 0, err
	}
	if len(info.ParamInfo.Modules) == 0 {
		return 0, &pkgerrs.RequestError{Err: errNoParamInfo(family)}
	}

	ceiling := 0
	for _, param := range info.ParamInfo.Modules[0].Parameters {
		if param.Name != "limit" {
			continue
		}
		if n.highLimits() {
			ceiling = param.HighMax
		} else {
			ceiling = param.Max
		}
		break
	}
	if ceiling <= 0 {
		return 0, &pkgerrs.RequestError{Err: errNoParamInfo(family)}
	}

	n.mu.Lock()
	n.ceilings[family] = ceiling
	n.mu.Unlock()
	return ceiling, nil
}

type errNoParamInfo string

func (e errNoParamInfo) Error() string {
	return "paraminfo reported no limit parameter for module " + string(e)
}
