package calsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/oauth2"

	"github.com/dukerupert/famcal/internal/model"
)

type fakeCreds struct {
	mu         sync.Mutex
	refreshes  int
	refreshErr error
}

func (f *fakeCreds) Seal(tok *oauth2.Token) (model.SealedToken, error) {
	return model.SealedToken{AccessToken: "sealed:" + tok.AccessToken, RefreshToken: "sealed:" + tok.RefreshToken}, nil
}

func (f *fakeCreds) TokenSource(_ context.Context, cal model.Calendar) (oauth2.TokenSource, error) {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cal.External.Token.AccessToken}), nil
}

func (f *fakeCreds) RefreshAccessToken(_ context.Context, _ string) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &oauth2.Token{AccessToken: "refreshed"}, nil
}

// fakeProvider serves one remote calendar. A full listing returns full; a
// listing with a cursor returns delta.
type fakeProvider struct {
	mu        sync.Mutex
	full      []model.RemoteEvent
	delta     []model.RemoteEvent
	next      string
	listErr   error
	checkErr  error
	expired   bool
	reject    string
	cursors   []string
	listCalls int
	entered   chan struct{}
	release   chan struct{}

	inserted map[string]model.Event
	deleted  []string
	seq      int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{next: "cursor-1", inserted: make(map[string]model.Event)}
}

func (p *fakeProvider) Client(_ context.Context, _ string, ts oauth2.TokenSource) (ProviderClient, error) {
	tok, err := ts.Token()
	if err != nil {
		return nil, err
	}
	return &fakeClient{p: p, token: tok.AccessToken}, nil
}

type fakeClient struct {
	p     *fakeProvider
	token string
}

func (c *fakeClient) authorized() error {
	if c.p.reject != "" && c.token == c.p.reject {
		return fmt.Errorf("list: %w", ErrUnauthorized)
	}
	return nil
}

func (c *fakeClient) CheckAccess(context.Context) error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if err := c.authorized(); err != nil {
		return err
	}
	return c.p.checkErr
}

func (c *fakeClient) ListChanges(_ context.Context, cursor string) (Changes, error) {
	c.p.mu.Lock()
	c.p.listCalls++
	c.p.cursors = append(c.p.cursors, cursor)
	entered, release := c.p.entered, c.p.release
	c.p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}

	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if err := c.authorized(); err != nil {
		return Changes{}, err
	}
	if c.p.listErr != nil {
		return Changes{}, c.p.listErr
	}
	if cursor != "" && c.p.expired {
		return Changes{}, ErrCursorExpired
	}
	if cursor == "" {
		return Changes{Items: append([]model.RemoteEvent(nil), c.p.full...), NextCursor: c.p.next}, nil
	}
	return Changes{Items: append([]model.RemoteEvent(nil), c.p.delta...), NextCursor: c.p.next}, nil
}

func (c *fakeClient) Insert(_ context.Context, ev model.Event) (string, error) {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if err := c.authorized(); err != nil {
		return "", err
	}
	c.p.seq++
	id := fmt.Sprintf("g-%d", c.p.seq)
	c.p.inserted[id] = ev
	return id, nil
}

func (c *fakeClient) Update(_ context.Context, externalID string, ev model.Event) error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if err := c.authorized(); err != nil {
		return err
	}
	c.p.inserted[externalID] = ev
	return nil
}

func (c *fakeClient) Delete(_ context.Context, externalID string) error {
	c.p.mu.Lock()
	defer c.p.mu.Unlock()
	if err := c.authorized(); err != nil {
		return err
	}
	c.p.deleted = append(c.p.deleted, externalID)
	return nil
}

type fakeFeed struct {
	mu      sync.Mutex
	result  FeedResult
	err     error
	etags   []string
	fetches int
}

func (f *fakeFeed) Fetch(_ context.Context, _ string, etag string) (FeedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	f.etags = append(f.etags, etag)
	if f.err != nil {
		return FeedResult{}, f.err
	}
	if etag != "" && etag == f.result.ETag {
		return FeedResult{ETag: etag, NotModified: true}, nil
	}
	return f.result, nil
}

var errBoom = errors.New("boom")
