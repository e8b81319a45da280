package mwclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Kenny2github/mw-api-client/internal"
	"github.com/Kenny2github/mw-api-client/pkg/params"
)

// User is a handle on a wiki account. IsCurrent marks the handle installed
// by Login for the session's own identity.
type User struct {
	wiki *Wiki

	Name         string    `json:"name"`
	UserID       int64     `json:"userid"`
	Groups       []string  `json:"groups"`
	Rights       []string  `json:"rights"`
	EditCount    int64     `json:"editcount"`
	Registration Timestamp `json:"registration"`
	Blocked      Flag      `json:"blockid"`
	BlockReason  string    `json:"blockreason"`
	Missing      Flag      `json:"missing"`
	Invalid      Flag      `json:"invalid"`
	IsCurrent    bool      `json:"-"`

	Extra map[string]json.RawMessage `json:"-"`
}

func (u *User) String() string {
	return fmt.Sprintf("<User %q>", u.Name)
}

// HasRight reports whether the user's rights list includes right.
func (u *User) HasRight(right string) bool {
	for _, r := range u.Rights {
		if r == right {
			return true
		}
	}
	return false
}

// InGroup reports whether the user belongs to the named group.
func (u *User) InGroup(group string) bool {
	for _, g := range u.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// Info fetches list=users data for this user and merges it into the handle.
func (u *User) Info(ctx context.Context, usprop string) error {
	if usprop == "" {
		usprop = "groups|rights|editcount|registration|blockinfo"
	}
	users, err := u.wiki.Users(ctx, []string{u.Name}, usprop)
	if err != nil {
		return err
	}
	if len(users) == 0 {
		return nil
	}
	*u = *users[0]
	return nil
}

// BlockOptions tunes User.Block.
type BlockOptions struct {
	Expiry        string
	Reason        string
	AutoBlock     bool
	NoCreate      bool
	NoEmail       bool
	AllowUserTalk bool
	Extra         params.Values
}

// Block blocks the user.
func (u *User) Block(ctx context.Context, opts *BlockOptions) (Record, error) {
	vals := params.Values{
		"action": "block",
		"user":   u.Name,
	}
	if opts != nil {
		vals.SetNonEmpty("expiry", opts.Expiry)
		vals.SetNonEmpty("reason", opts.Reason)
		vals.SetBool("autoblock", opts.AutoBlock)
		vals.SetBool("nocreate", opts.NoCreate)
		vals.SetBool("noemail", opts.NoEmail)
		vals.SetBool("allowusertalk", opts.AllowUserTalk)
		vals.Merge(opts.Extra)
	}
	env, err := u.wiki.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "block", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Unblock lifts the user's block.
func (u *User) Unblock(ctx context.Context, reason string) (Record, error) {
	vals := params.Values{
		"action": "unblock",
		"user":   u.Name,
	}
	vals.SetNonEmpty("reason", reason)
	env, err := u.wiki.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "unblock", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SetRights changes the user's group membership. add and remove are
// pipe-joined group lists; either may be empty.
func (u *User) SetRights(ctx context.Context, add, remove, reason string) (Record, error) {
	vals := params.Values{
		"action": "userrights",
		"user":   u.Name,
	}
	vals.SetNonEmpty("add", add)
	vals.SetNonEmpty("remove", remove)
	vals.SetNonEmpty("reason", reason)
	env, err := u.wiki.postWithToken(ctx, "userrights", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "userrights", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Contribs walks the user's contributions.
func (u *User) Contribs(opts *ListOptions) *Iterator[Record] {
	vals := listValues("usercontribs", "uc", opts, params.Max, params.Values{
		"ucuser": u.Name,
	})
	pager := u.wiki.listPager(vals, "", internal.Key("query"), internal.Key("usercontribs"))
	return newIterator(pager, decodeRecord)
}

// Email sends the user an email through the wiki.
func (u *User) Email(ctx context.Context, subject, text string, ccMe bool) (Record, error) {
	vals := params.Values{
		"action":  "emailuser",
		"target":  u.Name,
		"subject": subject,
		"text":    text,
	}
	vals.SetBool("ccme", ccMe)
	env, err := u.wiki.postWithToken(ctx, "csrf", vals, nil)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := decodeSection(env, "emailuser", &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ResetPassword mails the user a temporary password.
func (u *User) ResetPassword(ctx context.Context) error {
	_, err := u.wiki.postWithToken(ctx, "csrf", params.Values{
		"action": "resetpassword",
		"user":   u.Name,
	}, nil)
	return err
}

// ClearHasMsg clears the session user's "you have new messages" flag. Only
// valid on the current identity.
func (u *User) ClearHasMsg(ctx context.Context) error {
	_, err := u.wiki.PostRequest(ctx, params.Values{
		"action": "clearhasmsg",
	})
	return err
}
