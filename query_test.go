package mwclient_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	mwclient "github.com/Kenny2github/mw-api-client"
	"github.com/Kenny2github/mw-api-client/test_helpers"
)

func TestAllPagesFollowsContinuation(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query/allpages", test_helpers.PageBatch("allpages", 0, 2, false))
	ws.Respond("query/allpages", test_helpers.PageBatch("allpages", 2, 2, true))

	it := wiki.AllPages(&mwclient.ListOptions{Detail: mwclient.DetailNever})
	pages, err := it.Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(pages) != 4 {
		t.Fatalf("got %d pages, want 4", len(pages))
	}
	for i, p := range pages {
		if want := fmt.Sprintf("Page %d", i); p.Title != want {
			t.Errorf("page %d title = %q, want %q", i, p.Title, want)
		}
	}
	if got := ws.CallCount("query/allpages"); got != 2 {
		t.Errorf("fetched %d pages, want 2", got)
	}

	fetches := requestsForAction(ws, "query")
	if len(fetches) != 2 {
		t.Fatalf("got %d query requests", len(fetches))
	}
	if got := fetches[1].Get("apcontinue"); got != "Page 2" {
		t.Errorf("second request apcontinue = %q", got)
	}
	if got := ws.CallCount("paraminfo"); got != 0 {
		t.Errorf("sentinel run introspected %d times", got)
	}
}

func TestAllPagesNumericLimitShrinksAsk(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.ServeParamInfo("query+allpages", 7, 500)
	ws.Respond("query/allpages", test_helpers.PageBatch("allpages", 0, 7, false))
	ws.Respond("query/allpages", test_helpers.PageBatch("allpages", 7, 3, true))

	it := wiki.AllPages(&mwclient.ListOptions{Limit: "10", Detail: mwclient.DetailNever})
	pages, err := it.Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(pages) != 10 {
		t.Fatalf("got %d pages, want the full cap of 10", len(pages))
	}

	fetches := requestsForAction(ws, "query")
	if len(fetches) != 2 {
		t.Fatalf("got %d list fetches, want 2", len(fetches))
	}
	if got := fetches[0].Get("aplimit"); got != "10" {
		t.Errorf("first ask = %q", got)
	}
	if got := fetches[1].Get("aplimit"); got != "3" {
		t.Errorf("second ask = %q, want remaining 3 under ceiling 7", got)
	}
	if got := ws.CallCount("paraminfo"); got != 1 {
		t.Errorf("introspected %d times, want 1", got)
	}
}

func TestIteratorSurfacesAPIError(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query/allpages", test_helpers.PageBatch("allpages", 0, 2, false))
	ws.Respond("query/allpages", `{"error":{"code":"readapidenied","info":"You need read permission."}}`)

	it := wiki.AllPages(&mwclient.ListOptions{Detail: mwclient.DetailNever})
	ctx := context.Background()
	var got []string
	for it.HasNext() {
		p, err := it.Next(ctx)
		if err != nil {
			break
		}
		got = append(got, p.Title)
	}
	if len(got) != 2 {
		t.Errorf("yielded %d pages before the failure", len(got))
	}
	if it.Err() == nil {
		t.Fatal("iterator swallowed the API error")
	}
}

func TestIteratorExhaustionIsNotAnError(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query/allpages", test_helpers.PageBatch("allpages", 0, 1, true))

	it := wiki.AllPages(&mwclient.ListOptions{Detail: mwclient.DetailNever})
	ctx := context.Background()
	if _, err := it.Next(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := it.Next(ctx); !errors.Is(err, mwclient.ErrDone) {
		t.Fatalf("expected ErrDone, got %v", err)
	}
	if it.Err() != nil {
		t.Errorf("exhaustion reported as error: %v", it.Err())
	}
	if it.HasNext() {
		t.Error("HasNext after exhaustion")
	}
}

func TestAllCategoriesNormalizesTitles(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query/allcategories", `{"query":{"allcategories":[{"*":"Maps"},{"*":"Trains"}]}}`)

	cats, err := wiki.AllCategories(&mwclient.ListOptions{Detail: mwclient.DetailNever}).
		Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(cats) != 2 || cats[0].Title != "Maps" || cats[1].Title != "Trains" {
		t.Errorf("categories = %v", cats)
	}
}

func TestAllRevisionsFlattensNestedShape(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query/allrevisions", `{"query":{"allrevisions":[
		{"pageid":1,"ns":0,"title":"Alpha","revisions":[
			{"revid":10,"user":"Alice","timestamp":"2026-08-30T10:00:00Z"},
			{"revid":11,"user":"Bob","timestamp":"2026-08-30T11:00:00Z"}]},
		{"pageid":2,"ns":0,"title":"Beta","revisions":[
			{"revid":12,"user":"Alice","timestamp":"2026-08-30T12:00:00Z"}]}]}}`)

	revs, err := wiki.AllRevisions(nil).Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(revs) != 3 {
		t.Fatalf("got %d revisions, want 3 across 2 pages", len(revs))
	}
	if revs[0].RevID != 10 || revs[2].RevID != 12 {
		t.Errorf("revision order wrong: %v, %v", revs[0], revs[2])
	}
	if revs[0].Page() == nil || revs[0].Page().Title != "Alpha" {
		t.Error("revision lost its page context")
	}
	if revs[2].Page() == nil || revs[2].Page().Title != "Beta" {
		t.Error("second page context wrong")
	}
}

func TestSearchCarriesResultFields(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query/search", `{"query":{"search":[
		{"ns":0,"title":"Gopher","snippet":"a burrowing <b>rodent</b>","wordcount":341,"size":2048,"timestamp":"2026-08-28T00:00:00Z"}]}}`)

	results, err := wiki.Search("gopher", &mwclient.ListOptions{Detail: mwclient.DetailNever}).
		Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	r := results[0]
	if r.Title != "Gopher" || r.WordCount != 341 || r.Snippet == "" {
		t.Errorf("result = %+v", r)
	}

	fetches := requestsForAction(ws, "query")
	if got := fetches[0].Get("srsearch"); got != "gopher" {
		t.Errorf("srsearch = %q", got)
	}
}

func TestDetailAlwaysLoadsInfoPerPage(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("query/allpages", test_helpers.PageBatch("allpages", 0, 2, true))
	ws.Respond("query", `{"query":{"pages":{"1":{"pageid":1,"ns":0,"contentmodel":"wikitext","length":10}}}}`)
	ws.Respond("query", `{"query":{"pages":{"2":{"pageid":2,"ns":0,"contentmodel":"wikitext","length":20}}}}`)

	pages, err := wiki.AllPages(&mwclient.ListOptions{Detail: mwclient.DetailAlways}).
		Collect(context.Background(), 0)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages", len(pages))
	}
	if pages[0].Length != 10 || pages[1].Length != 20 {
		t.Errorf("detail not loaded: %d, %d", pages[0].Length, pages[1].Length)
	}
	if got := ws.CallCount("query"); got != 2 {
		t.Errorf("detail issued %d info calls, want 2", got)
	}
}
