// Package mwclient is a typed client for the MediaWiki Action API.
//
// A Wiki value is a session against one api.php endpoint:
//
//	wiki, err := mwclient.New(&mwclient.Config{
//		APIURL:    "https://en.wikipedia.org/w/api.php",
//		UserAgent: "my-bot/1.0 (contact@example.org)",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
// Pages, users, and revisions are handles constructed without network
// traffic; their methods issue the calls:
//
//	page := wiki.Page("Go (programming language)")
//	content, err := page.Read(ctx)
//
// Enumerations return iterators that fetch lazily and follow the API's
// continuation protocol across pages:
//
//	it := wiki.Search("gopher", nil)
//	for it.HasNext() {
//		p, err := it.Next(ctx)
//		if err != nil {
//			break
//		}
//		fmt.Println(p.Title)
//	}
//
// Requested counts above the server's per-request ceiling are split across
// requests transparently, and params.Max asks for the server maximum each
// round. Edits are guarded against conflicts by default: if the page
// changed since this handle last read it, Edit fails with an
// EditConflictError instead of overwriting.
//
// Anything the typed surface does not cover is reachable through
// Wiki.Request and Wiki.PostRequest with raw parameters.
package mwclient
