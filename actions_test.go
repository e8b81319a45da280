package mwclient_test

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestUploadSendsMultipart(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.ServeTokens(map[string]string{"csrf": "T1"})

	var gotFilename, gotToken, gotFile string
	ws.Handle("upload", func(w http.ResponseWriter, r *http.Request) {
		gotFilename = r.FormValue("filename")
		gotToken = r.FormValue("token")
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("no file part: %v", err)
		} else {
			data, _ := io.ReadAll(f)
			f.Close()
			gotFile = string(data)
		}
		w.Write([]byte(`{"upload":{"result":"Success","filename":"Example.png"}}`))
	})

	rec, err := wiki.Upload(context.Background(), "Example.png",
		strings.NewReader("fake png bytes"), "", nil)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if rec == nil {
		t.Fatal("no upload record")
	}
	if gotFilename != "Example.png" {
		t.Errorf("filename = %q", gotFilename)
	}
	if gotToken != "T1" {
		t.Errorf("token = %q", gotToken)
	}
	if gotFile != "fake png bytes" {
		t.Errorf("file payload = %q", gotFile)
	}
}

func TestUploadRejectsAmbiguousSource(t *testing.T) {
	wiki, _ := newTestWiki(t)
	ctx := context.Background()

	if _, err := wiki.Upload(ctx, "X.png", nil, "", nil); err == nil {
		t.Error("no source accepted")
	}
	if _, err := wiki.Upload(ctx, "X.png", strings.NewReader("x"), "http://example.org/x.png", nil); err == nil {
		t.Error("two sources accepted")
	}
}

func TestUploadByURLUsesPlainPost(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.ServeTokens(map[string]string{"csrf": "T1"})
	ws.Respond("upload", `{"upload":{"result":"Queued"}}`)

	_, err := wiki.Upload(context.Background(), "X.png", nil, "http://example.org/x.png", nil)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	uploads := requestsForAction(ws, "upload")
	if len(uploads) != 1 {
		t.Fatalf("got %d uploads", len(uploads))
	}
	if got := uploads[0].Get("url"); got != "http://example.org/x.png" {
		t.Errorf("url = %q", got)
	}
}

func TestExpandTemplates(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("expandtemplates", `{"expandtemplates":{"wikitext":"expanded output"}}`)

	out, err := wiki.ExpandTemplates(context.Background(), "{{Foo}}", "Sandbox")
	if err != nil {
		t.Fatalf("ExpandTemplates: %v", err)
	}
	if out != "expanded output" {
		t.Errorf("wikitext = %q", out)
	}
}

func TestParseUnwrapsLegacyText(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("parse", `{"parse":{"title":"Sandbox","pageid":1,"text":{"*":"<p>hello</p>"}}}`)

	result, err := wiki.Parse(context.Background(), "", "Sandbox")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.HTML != "<p>hello</p>" {
		t.Errorf("HTML = %q", result.HTML)
	}
	if result.Title != "Sandbox" {
		t.Errorf("title = %q", result.Title)
	}
}

func TestCompareReturnsDiffBody(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("compare", `{"compare":{"fromtitle":"A","totitle":"B","*":"<tr>diff rows</tr>"}}`)

	diff, err := wiki.Compare(context.Background(), "A", "B")
	if err != nil {
		t.Fatalf("Compare: %v", err)
	}
	if diff != "<tr>diff rows</tr>" {
		t.Errorf("diff = %q", diff)
	}
}

func TestCheckToken(t *testing.T) {
	wiki, ws := newTestWiki(t)
	ws.Respond("checktoken", `{"checktoken":{"result":"valid"}}`)
	ws.Respond("checktoken", `{"checktoken":{"result":"invalid"}}`)
	ctx := context.Background()

	ok, err := wiki.CheckToken(ctx, "csrf", "sometoken")
	if err != nil || !ok {
		t.Fatalf("valid token: ok=%v err=%v", ok, err)
	}
	ok, err = wiki.CheckToken(ctx, "csrf", "other")
	if err != nil || ok {
		t.Fatalf("invalid token: ok=%v err=%v", ok, err)
	}
}
