package mwclient_test

import (
	"context"
	"errors"
	"testing"

	mwclient "github.com/Kenny2github/mw-api-client"
	pkgerrs "github.com/Kenny2github/mw-api-client/pkg/errors"
)

func TestReadLegacyStarContent(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query", `{"query":{"pages":{"1":{"pageid":1,"ns":0,"title":"Sandbox",
		"revisions":[{"*":"legacy wikitext","timestamp":"2026-08-30T10:00:00Z"}]}}}}`)

	page := wiki.Page("Sandbox")
	content, err := page.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if content != "legacy wikitext" {
		t.Errorf("content = %q", content)
	}
	if page.Content != content {
		t.Errorf("handle content = %q", page.Content)
	}
}

func TestReadSlotsContent(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query", `{"query":{"pages":{"1":{"pageid":1,"title":"Sandbox",
		"revisions":[{"slots":{"main":{"content":"modern wikitext"}},"timestamp":"2026-08-30T10:00:00Z"}]}}}}`)

	content, err := wiki.Page("Sandbox").Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if content != "modern wikitext" {
		t.Errorf("content = %q", content)
	}
}

func TestReadMissingPage(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query", `{"query":{"pages":{"-1":{"ns":0,"title":"No such page","missing":""}}}}`)

	page := wiki.Page("No such page")
	_, err := page.Read(context.Background())
	if !errors.Is(err, &pkgerrs.APIError{Code: "notfound"}) {
		t.Fatalf("expected notfound, got %v", err)
	}
	if !bool(page.Missing) {
		t.Error("missing flag not set on handle")
	}
}

func TestInfoMergesWithoutClobberingTitle(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query", `{"query":{"pages":{"1":{"pageid":1,"ns":0,"title":"Sandbox",
		"contentmodel":"wikitext","touched":"2026-08-29T09:00:00Z","lastrevid":41,"length":120,
		"unusualfield":"kept"}}}}`)

	page := wiki.Page("sandbox")
	if err := page.Info(context.Background()); err != nil {
		t.Fatalf("Info: %v", err)
	}
	if page.Title != "sandbox" {
		t.Errorf("title was clobbered: %q", page.Title)
	}
	if page.PageID != 1 || page.LastRevID != 41 || page.Length != 120 {
		t.Errorf("info fields not merged: %+v", page)
	}
	if string(page.Extra["unusualfield"]) != `"kept"` {
		t.Errorf("unknown field not kept: %q", page.Extra["unusualfield"])
	}
}

func TestEditConflictDetected(t *testing.T) {
	wiki, ws := newTestWiki(t)
	// Read at 10:00, someone else saved at 11:00.
	ws.Respond("query", `{"query":{"pages":{"1":{"pageid":1,"title":"Sandbox",
		"revisions":[{"*":"original","timestamp":"2026-08-30T10:00:00Z"}]}}}}`)
	ws.Respond("query", `{"query":{"pages":{"1":{"pageid":1,"title":"Sandbox",
		"revisions":[{"timestamp":"2026-08-30T11:00:00Z"}]}}}}`)

	page := wiki.Page("Sandbox")
	ctx := context.Background()
	if _, err := page.Read(ctx); err != nil {
		t.Fatalf("Read: %v", err)
	}

	_, err := page.Edit(ctx, "my version", "", nil)
	var conflict *pkgerrs.EditConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected EditConflictError, got %v", err)
	}
	if conflict.Title != "Sandbox" {
		t.Errorf("conflict title = %q", conflict.Title)
	}
	if got := ws.CallCount("edit"); got != 0 {
		t.Errorf("conflicting edit reached the server %d times", got)
	}
}

func TestEditConflictGuardOptOut(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query", `{"query":{"pages":{"1":{"pageid":1,"title":"Sandbox",
		"revisions":[{"*":"original","timestamp":"2026-08-30T10:00:00Z"}]}}}}`)
	ws.ServeTokens(map[string]string{"csrf": "T1"})
	ws.Respond("edit", `{"edit":{"result":"Success","pageid":1,"title":"Sandbox","newrevid":43,"newtimestamp":"2026-08-30T12:00:00Z"}}`)

	page := wiki.Page("Sandbox")
	ctx := context.Background()
	if _, err := page.Read(ctx); err != nil {
		t.Fatal(err)
	}

	opts := &mwclient.EditOptions{SkipConflictCheck: true}
	if _, err := page.Edit(ctx, "my version", "", opts); err != nil {
		t.Fatalf("Edit with guard disabled: %v", err)
	}
	if got := ws.CallCount("edit"); got != 1 {
		t.Errorf("edit sent %d times, want 1", got)
	}
	// With the guard skipped no extra revisions query happens: one Read only.
	if got := ws.CallCount("query"); got != 1 {
		t.Errorf("issued %d query calls, want 1", got)
	}
}

func TestEditNeverReadDoesNotConflict(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.ServeTokens(map[string]string{"csrf": "T1"})
	ws.Respond("edit", `{"edit":{"result":"Success","pageid":1,"title":"Sandbox","newrevid":43}}`)

	_, err := wiki.Page("Sandbox").Edit(context.Background(), "fresh", "", nil)
	if err != nil {
		t.Fatalf("Edit on unread page: %v", err)
	}
	if got := ws.CallCount("query"); got != 0 {
		t.Errorf("unread page triggered %d guard queries", got)
	}
}

func TestFreshReadClearsConflict(t *testing.T) {
	wiki, ws := newTestWiki(t)
	// First read at 10:00, guard sees 11:00, re-read at 11:00, guard sees
	// 11:00 again: second edit proceeds.
	readAt10 := `{"query":{"pages":{"1":{"pageid":1,"title":"Sandbox",
		"revisions":[{"*":"v1","timestamp":"2026-08-30T10:00:00Z"}]}}}}`
	at11 := `{"query":{"pages":{"1":{"pageid":1,"title":"Sandbox",
		"revisions":[{"*":"v2","timestamp":"2026-08-30T11:00:00Z"}]}}}}`
	ws.Respond("query", readAt10)
	ws.Respond("query", at11)
	ws.Respond("query", at11)
	ws.Respond("query", at11)
	ws.ServeTokens(map[string]string{"csrf": "T1"})
	ws.Respond("edit", `{"edit":{"result":"Success","newrevid":44,"newtimestamp":"2026-08-30T12:00:00Z"}}`)

	page := wiki.Page("Sandbox")
	ctx := context.Background()
	if _, err := page.Read(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := page.Edit(ctx, "mine", "", nil); err == nil {
		t.Fatal("expected a conflict on the first edit")
	}
	if _, err := page.Read(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := page.Edit(ctx, "mine rebased", "", nil); err != nil {
		t.Fatalf("edit after fresh read: %v", err)
	}
}

func TestReplaceRewritesContent(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query", `{"query":{"pages":{"1":{"pageid":1,"title":"Sandbox",
		"revisions":[{"*":"the cat sat on the cat mat","timestamp":"2026-08-30T10:00:00Z"}]}}}}`)
	ws.Respond("query", `{"query":{"pages":{"1":{"pageid":1,"title":"Sandbox",
		"revisions":[{"timestamp":"2026-08-30T10:00:00Z"}]}}}}`)
	ws.ServeTokens(map[string]string{"csrf": "T1"})
	ws.Respond("edit", `{"edit":{"result":"Success","newrevid":44}}`)

	_, err := wiki.Page("Sandbox").Replace(context.Background(), "cat", "dog", "", nil)
	if err != nil {
		t.Fatalf("Replace: %v", err)
	}
	edits := requestsForAction(ws, "edit")
	if len(edits) != 1 {
		t.Fatalf("got %d edits", len(edits))
	}
	if got := edits[0].Get("text"); got != "the dog sat on the dog mat" {
		t.Errorf("text = %q", got)
	}
	if edits[0].Get("summary") == "" {
		t.Error("no generated summary")
	}
}

func TestRevisionsIteratorBindsPage(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query", `{"query":{"pages":{"1":{"pageid":1,"title":"Sandbox","revisions":[
		{"revid":2,"parentid":1,"user":"Alice","comment":"tweak","timestamp":"2026-08-30T10:00:00Z"},
		{"revid":1,"parentid":0,"user":"Bob","comment":"create","timestamp":"2026-08-29T10:00:00Z"}]}}}}`)

	page := wiki.Page("Sandbox")
	revs, err := page.Revisions(nil).Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("Revisions: %v", err)
	}
	if len(revs) != 2 {
		t.Fatalf("got %d revisions", len(revs))
	}
	if revs[0].RevID != 2 || revs[0].User != "Alice" {
		t.Errorf("first revision = %+v", revs[0])
	}
	if revs[0].Page() != page {
		t.Error("revision not bound to its page handle")
	}
}
