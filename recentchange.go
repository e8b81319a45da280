package mwclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Kenny2github/mw-api-client/pkg/params"
)

// RecentChange is one entry in the recent changes feed.
type RecentChange struct {
	wiki *Wiki

	RCID      int64     `json:"rcid"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	PageID    int64     `json:"pageid"`
	RevID     int64     `json:"revid"`
	OldRevID  int64     `json:"old_revid"`
	User      string    `json:"user"`
	Comment   string    `json:"comment"`
	Timestamp Timestamp `json:"timestamp"`
	OldLen    int64     `json:"oldlen"`
	NewLen    int64     `json:"newlen"`
	Minor     Flag      `json:"minor"`
	Bot       Flag      `json:"bot"`
	New       Flag      `json:"new"`
	Redirect  Flag      `json:"redirect"`
	Patrolled Flag      `json:"patrolled"`
	Tags      []string  `json:"tags"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (rc *RecentChange) String() string {
	return fmt.Sprintf("<RecentChange %d on %q>", rc.RCID, rc.Title)
}

// Page returns a handle for the changed page.
func (rc *RecentChange) Page() *Page {
	return rc.wiki.Page(rc.Title)
}

// Patrol marks the change as patrolled.
func (rc *RecentChange) Patrol(ctx context.Context) error {
	_, err := rc.wiki.postWithToken(ctx, "patrol", params.Values{
		"action": "patrol",
		"rcid":   strconv.FormatInt(rc.RCID, 10),
	}, nil)
	return err
}

// Tag applies and removes change tags on this entry. add and remove are
// pipe-joined tag lists; either may be empty.
func (rc *RecentChange) Tag(ctx context.Context, add, remove, reason string) (Record, error) {
	vals := params.Values{
		"action": "tag",
		"rcid":   strconv.FormatInt(rc.RCID, 10),
	}
	vals.SetNonEmpty("add", add)
	vals.SetNonEmpty("remove", remove)
	vals.SetNonEmpty("reason", reason)
	env, err := rc.wiki.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "tag", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Tag is a change tag defined on the wiki.
type Tag struct {
	wiki *Wiki

	Name        string   `json:"name"`
	DisplayName string   `json:"displayname"`
	Description string   `json:"description"`
	HitCount    int64    `json:"hitcount"`
	Defined     Flag     `json:"defined"`
	Active      Flag     `json:"active"`
	Source      []string `json:"source"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (t *Tag) String() string {
	return fmt.Sprintf("<Tag %q>", t.Name)
}
