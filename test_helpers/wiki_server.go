// Package test_helpers provides a configurable mock MediaWiki API server
// for tests.
package test_helpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// WikiServer is a scriptable stand-in for api.php. Responses are keyed by
// the request's action parameter (or "action/list" when a list module is
// present), and every request is logged for assertions.
type WikiServer struct {
	server *httptest.Server

	mutex      sync.Mutex
	responses  map[string][]string
	handlers   map[string]http.HandlerFunc
	callCount  map[string]int
	requestLog []RequestEntry
}

// RequestEntry records one incoming request.
type RequestEntry struct {
	Method    string
	Params    url.Values
	Timestamp time.Time
}

// NewWikiServer starts a mock server with no routes. Callers must Close it.
func NewWikiServer() *WikiServer {
	ws := &WikiServer{
		responses: make(map[string][]string),
		handlers:  make(map[string]http.HandlerFunc),
		callCount: make(map[string]int),
	}
	ws.server = httptest.NewServer(http.HandlerFunc(ws.serve))
	return ws
}

// URL returns the mock api.php endpoint.
func (ws *WikiServer) URL() string { return ws.server.URL }

// Close shuts the server down.
func (ws *WikiServer) Close() { ws.server.Close() }

// routeKey derives the lookup key for a request: "action" or "action/list".
func routeKey(params url.Values) string {
	key := params.Get("action")
	if list := params.Get("list"); list != "" {
		key += "/" + list
	} else if meta := params.Get("meta"); meta != "" {
		key += "/" + meta
	}
	return key
}

func (ws *WikiServer) serve(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params := r.Form

	ws.mutex.Lock()
	ws.requestLog = append(ws.requestLog, RequestEntry{
		Method:    r.Method,
		Params:    cloneValues(params),
		Timestamp: time.Now(),
	})
	key := routeKey(params)
	ws.callCount[key]++
	handler := ws.handlers[key]
	var body string
	if handler == nil {
		if queue := ws.responses[key]; len(queue) > 0 {
			body = queue[0]
			if len(queue) > 1 {
				ws.responses[key] = queue[1:]
			}
		}
	}
	ws.mutex.Unlock()

	if handler != nil {
		handler(w, r)
		return
	}
	if body == "" {
		body = fmt.Sprintf(`{"error":{"code":"unroutable","info":"no mock response for %q"}}`, key)
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, body)
}

// Respond scripts a single response body for a route key. Scripting the
// same key again appends: queued bodies are served in order, the last one
// repeating.
func (ws *WikiServer) Respond(key, body string) {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	ws.responses[key] = append(ws.responses[key], body)
}

// Handle installs a raw handler for a route key, overriding any scripted
// bodies.
func (ws *WikiServer) Handle(key string, h http.HandlerFunc) {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	ws.handlers[key] = h
}

// CallCount returns how many requests hit the route key.
func (ws *WikiServer) CallCount(key string) int {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	return ws.callCount[key]
}

// Requests returns a copy of the request log.
func (ws *WikiServer) Requests() []RequestEntry {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	out := make([]RequestEntry, len(ws.requestLog))
	copy(out, ws.requestLog)
	return out
}

// LastRequest returns the most recent request, or nil.
func (ws *WikiServer) LastRequest() *RequestEntry {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	if len(ws.requestLog) == 0 {
		return nil
	}
	entry := ws.requestLog[len(ws.requestLog)-1]
	return &entry
}

// ServeTokens scripts meta=tokens to return the given tokens, keyed by kind
// ("csrf", "login", ...).
func (ws *WikiServer) ServeTokens(tokens map[string]string) {
	named := make(map[string]string, len(tokens))
	for kind, tok := range tokens {
		named[kind+"token"] = tok
	}
	body, _ := json.Marshal(map[string]any{
		"query": map[string]any{"tokens": named},
	})
	ws.Respond("query/tokens", string(body))
}

// ServeParamInfo scripts action=paraminfo for one module with the given
// limit ceilings.
func (ws *WikiServer) ServeParamInfo(module string, max, highMax int) {
	body, _ := json.Marshal(map[string]any{
		"paraminfo": map[string]any{
			"modules": []map[string]any{{
				"name": module,
				"parameters": []map[string]any{{
					"name":    "limit",
					"max":     max,
					"highmax": highMax,
				}},
			}},
		},
	})
	ws.Respond("paraminfo", string(body))
}

// PageBatch builds one query envelope for a list module: count records
// starting at offset, each titled "Page <n>", plus a continue token unless
// last is set.
func PageBatch(module string, offset, count int, last bool) string {
	records := make([]map[string]any, count)
	for i := range records {
		n := offset + i
		records[i] = map[string]any{
			"pageid": n + 1,
			"ns":     0,
			"title":  "Page " + strconv.Itoa(n),
		}
	}
	env := map[string]any{
		"query": map[string]any{module: records},
	}
	if !last {
		cont := map[string]any{"continue": "-||"}
		cont[prefixFor(module)+"continue"] = "Page " + strconv.Itoa(offset+count)
		env["continue"] = cont
	}
	body, _ := json.Marshal(env)
	return string(body)
}

func prefixFor(module string) string {
	switch module {
	case "allpages":
		return "ap"
	case "allcategories":
		return "ac"
	case "search":
		return "sr"
	case "recentchanges":
		return "rc"
	default:
		return ""
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
