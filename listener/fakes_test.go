package listener

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/invalidation"
	"github.com/jonwraymond/cachegate/webhook"
)

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	calls map[string]int
	hang  map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}, hang: map[string]bool{}}
}

func (f *fakeFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages[url] = body
	delete(f.errs, url)
}

func (f *fakeFetcher) fail(url string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = err
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	f.mu.Lock()
	f.calls[url]++
	body, ok := f.pages[url]
	err := f.errs[url]
	hang := f.hang[url]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &FetchError{URL: url, Status: 404}
	}
	return &Page{Body: []byte(body), ContentType: "text/html"}, nil
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls []invalidation.Criteria
	n     int
	err   error
}

func (r *recordingInvalidator) Invalidate(_ context.Context, p *auth.Principal, c invalidation.Criteria) (invalidation.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p != nil {
		return invalidation.Result{}, errors.New("scheduler must invalidate as system")
	}
	r.calls = append(r.calls, c)
	return invalidation.Result{Invalidated: r.n}, r.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	targets []string
	sent    []webhook.Notification
	err     error
}

func (r *recordingNotifier) Notify(_ context.Context, target string, n webhook.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
	r.sent = append(r.sent, n)
	return r.err
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
