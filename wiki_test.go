package mwclient_test

import (
	"context"
	"errors"
	"net/url"
	"testing"

	mwclient "github.com/Kenny2github/mw-api-client"
	pkgerrs "github.com/Kenny2github/mw-api-client/pkg/errors"
	"github.com/Kenny2github/mw-api-client/test_helpers"
)

func newTestWiki(t *testing.T) (*mwclient.Wiki, *test_helpers.WikiServer) {
	t.Helper()
	ws := test_helpers.NewWikiServer()
	t.Cleanup(ws.Close)
	wiki, err := mwclient.New(&mwclient.Config{
		APIURL:    ws.URL(),
		UserAgent: "mwclient-test/1.0",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return wiki, ws
}

// requestsForAction filters the server's request log by action parameter.
func requestsForAction(ws *test_helpers.WikiServer, action string) []url.Values {
	var out []url.Values
	for _, entry := range ws.Requests() {
		if entry.Params.Get("action") == action {
			out = append(out, entry.Params)
		}
	}
	return out
}

func TestNewRequiresAPIURL(t *testing.T) {
	_, err := mwclient.New(&mwclient.Config{})
	var cfgErr *pkgerrs.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %v", err)
	}
	if cfgErr.Field != "APIURL" {
		t.Errorf("wrong field: %q", cfgErr.Field)
	}
}

func TestNewIssuesNoRequests(t *testing.T) {
	_, ws := newTestWiki(t)
	if got := len(ws.Requests()); got != 0 {
		t.Errorf("New issued %d requests, want 0", got)
	}
}

func TestLoginHandshake(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.ServeTokens(map[string]string{"login": `LT+\`})
	ws.Respond("login", `{"login":{"result":"Success","lguserid":7,"lgusername":"BotUser"}}`)
	ws.Respond("query/userinfo", `{"query":{"userinfo":{"id":7,"name":"BotUser","groups":["bot"],"rights":["read","apihighlimits"]}}}`)

	result, err := wiki.Login(context.Background(), "BotUser", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Result != "Success" {
		t.Errorf("result = %q", result.Result)
	}

	logins := requestsForAction(ws, "login")
	if len(logins) != 1 {
		t.Fatalf("got %d login requests, want 1", len(logins))
	}
	if got := logins[0].Get("lgtoken"); got != `LT+\` {
		t.Errorf("lgtoken = %q", got)
	}
	if got := logins[0].Get("lgname"); got != "BotUser" {
		t.Errorf("lgname = %q", got)
	}

	user := wiki.CurrentUser()
	if user == nil {
		t.Fatal("no current user after login")
	}
	if user.Name != "BotUser" {
		t.Errorf("user name = %q", user.Name)
	}
	if !user.HasRight("apihighlimits") {
		t.Error("rights not merged from userinfo")
	}
}

func TestLoginFailureSurfacesReason(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.ServeTokens(map[string]string{"login": "LT"})
	ws.Respond("login", `{"login":{"result":"Failed","reason":"Incorrect username or password entered."}}`)

	_, err := wiki.Login(context.Background(), "BotUser", "wrong")
	var apiErr *pkgerrs.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "login-Failed" {
		t.Errorf("code = %q", apiErr.Code)
	}
	if wiki.CurrentUser() != nil {
		t.Error("failed login must not install an identity")
	}
}

func TestTokenIsCachedForSession(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.ServeTokens(map[string]string{"csrf": `T1+\`})
	ctx := context.Background()

	first, err := wiki.Token(ctx, "csrf")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	second, err := wiki.Token(ctx, "csrf")
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if first != second || first != `T1+\` {
		t.Errorf("tokens %q, %q", first, second)
	}
	if got := ws.CallCount("query/tokens"); got != 1 {
		t.Errorf("token fetched %d times, want 1", got)
	}
}

func TestInvalidateTokenForcesRefetch(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.ServeTokens(map[string]string{"csrf": "T1"})
	ws.ServeTokens(map[string]string{"csrf": "T2"})
	ctx := context.Background()

	if _, err := wiki.Token(ctx, "csrf"); err != nil {
		t.Fatal(err)
	}
	wiki.InvalidateToken("csrf")
	tok, err := wiki.Token(ctx, "csrf")
	if err != nil {
		t.Fatal(err)
	}
	if tok != "T2" {
		t.Errorf("token = %q, want refetched T2", tok)
	}
}

func TestEditRetriesOnceOnBadToken(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.ServeTokens(map[string]string{"csrf": "STALE"})
	ws.ServeTokens(map[string]string{"csrf": "FRESH"})
	ws.Respond("edit", `{"error":{"code":"badtoken","info":"Invalid CSRF token."}}`)
	ws.Respond("edit", `{"edit":{"result":"Success","pageid":1,"title":"Sandbox","newrevid":42,"newtimestamp":"2026-08-30T12:00:00Z"}}`)

	result, err := wiki.Page("Sandbox").Edit(context.Background(), "hello", "test edit", nil)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if result.Result != "Success" {
		t.Errorf("result = %q", result.Result)
	}

	edits := requestsForAction(ws, "edit")
	if len(edits) != 2 {
		t.Fatalf("got %d edit requests, want 2", len(edits))
	}
	if got := edits[0].Get("token"); got != "STALE" {
		t.Errorf("first token = %q", got)
	}
	if got := edits[1].Get("token"); got != "FRESH" {
		t.Errorf("replayed token = %q, want fresh one", got)
	}
}

func TestEditBadTokenRetriesExactlyOnce(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.ServeTokens(map[string]string{"csrf": "T1"})
	ws.ServeTokens(map[string]string{"csrf": "T2"})
	ws.Respond("edit", `{"error":{"code":"badtoken","info":"Invalid CSRF token."}}`)

	_, err := wiki.Page("Sandbox").Edit(context.Background(), "hello", "", nil)
	if !errors.Is(err, &pkgerrs.APIError{Code: "badtoken"}) {
		t.Fatalf("expected badtoken after one replay, got %v", err)
	}
	if got := ws.CallCount("edit"); got != 2 {
		t.Errorf("edit attempted %d times, want 2", got)
	}
}

func TestLogoutForgetsIdentityAndTokens(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.ServeTokens(map[string]string{"login": "LT"})
	ws.Respond("login", `{"login":{"result":"Success","lgusername":"BotUser"}}`)
	ws.Respond("query/userinfo", `{"query":{"userinfo":{"id":7,"name":"BotUser","rights":["read"]}}}`)
	ws.Respond("logout", `{"logout":{}}`)
	ctx := context.Background()

	if _, err := wiki.Login(ctx, "BotUser", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := wiki.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if wiki.CurrentUser() != nil {
		t.Error("identity survived logout")
	}
}
