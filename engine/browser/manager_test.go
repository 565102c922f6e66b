package browser

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePage struct {
	closed bool
	url    string
}

func (p *fakePage) Navigate(ctx context.Context, url string) error { p.url = url; return nil }
func (p *fakePage) Click(ctx context.Context, selector string) error { return nil }
func (p *fakePage) Fill(ctx context.Context, selector, text string) error { return nil }
func (p *fakePage) Press(ctx context.Context, selector, key string) error { return nil }
func (p *fakePage) InnerText(ctx context.Context, selector string) (string, error) {
	return "", nil
}
func (p *fakePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}
func (p *fakePage) Count(ctx context.Context, selector string) (int, error)     { return 0, nil }
func (p *fakePage) IsVisible(ctx context.Context, selector string) (bool, error) { return false, nil }
func (p *fakePage) Content(ctx context.Context) (string, error)                 { return "", nil }
func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error)              { return nil, nil }
func (p *fakePage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return nil
}
func (p *fakePage) URL() string { return p.url }
func (p *fakePage) Title(ctx context.Context) (string, error) {
	if p.closed {
		return "", errors.New("target closed")
	}
	return "fake", nil
}
func (p *fakePage) Close(ctx context.Context) error { p.closed = true; return nil }

type fakeContext struct {
	pages  []*fakePage
	closed bool
}

func (c *fakeContext) Pages() []Page {
	out := make([]Page, len(c.pages))
	for i, p := range c.pages {
		out[i] = p
	}
	return out
}
func (c *fakeContext) NewPage(ctx context.Context) (Page, error) {
	p := &fakePage{}
	c.pages = append(c.pages, p)
	return p, nil
}
func (c *fakeContext) StorageState(ctx context.Context) (map[string]any, error) {
	return map[string]any{"cookies": []any{}}, nil
}
func (c *fakeContext) Close(ctx context.Context) error { c.closed = true; return nil }

type fakeBrowser struct {
	contexts []*fakeContext
	closed   bool
}

func (b *fakeBrowser) Contexts() []BrowserContext {
	out := make([]BrowserContext, len(b.contexts))
	for i, c := range b.contexts {
		out[i] = c
	}
	return out
}
func (b *fakeBrowser) NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error) {
	c := &fakeContext{}
	b.contexts = append(b.contexts, c)
	return c, nil
}
func (b *fakeBrowser) Close(ctx context.Context) error { b.closed = true; return nil }

type fakeDriver struct {
	attachBrowser *fakeBrowser
	attachErr     error
	launched      *fakeBrowser
	attachCalls   int
}

func (d *fakeDriver) ConnectOverCDP(ctx context.Context, url string) (Browser, error) {
	d.attachCalls++
	if d.attachErr != nil {
		return nil, d.attachErr
	}
	return d.attachBrowser, nil
}

func (d *fakeDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	d.launched = &fakeBrowser{}
	return d.launched, nil
}

type nopLogger struct{}

func (nopLogger) Info(msg string, args ...any)  {}
func (nopLogger) Warn(msg string, args ...any)  {}
func (nopLogger) Error(msg string, args ...any) {}

func TestConnectReusesAttachedPage(t *testing.T) {
	existing := &fakePage{url: "https://example.com"}
	d := &fakeDriver{attachBrowser: &fakeBrowser{
		contexts: []*fakeContext{{pages: []*fakePage{existing}}},
	}}
	m := NewManager(d, []string{"http://localhost:9222"}, nopLogger{})

	s, err := m.Connect(context.Background(), ConnectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.IsCDP || !s.ReusedPage || s.OwnsContext {
		t.Fatalf("expected attached reused session, got %+v", s)
	}
	if s.Page.URL() != "https://example.com" {
		t.Fatal("expected the existing tab to be adopted")
	}
}

func TestConnectSkipsBlankTabs(t *testing.T) {
	blank := &fakePage{url: "about:blank"}
	inbox := &fakePage{url: "https://mail.example.com/inbox"}
	d := &fakeDriver{attachBrowser: &fakeBrowser{
		contexts: []*fakeContext{{pages: []*fakePage{blank, inbox}}},
	}}
	m := NewManager(d, []string{"http://localhost:9222"}, nopLogger{})

	s, err := m.Connect(context.Background(), ConnectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.ReusedPage {
		t.Fatalf("expected the non-blank tab adopted, got %+v", s)
	}
	if s.Page.URL() != "https://mail.example.com/inbox" {
		t.Fatalf("expected the non-blank tab adopted, got %q", s.Page.URL())
	}
}

func TestConnectAllBlankTabsOpensNewPage(t *testing.T) {
	bc := &fakeContext{pages: []*fakePage{{url: "about:blank"}}}
	d := &fakeDriver{attachBrowser: &fakeBrowser{contexts: []*fakeContext{bc}}}
	m := NewManager(d, []string{"http://localhost:9222"}, nopLogger{})

	s, err := m.Connect(context.Background(), ConnectOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ReusedPage || s.OwnsContext {
		t.Fatalf("expected a fresh page in the user's context, got %+v", s)
	}
	if len(bc.pages) != 2 {
		t.Fatalf("expected a new page created, context has %d pages", len(bc.pages))
	}
}

func TestConnectFallsBackToLaunch(t *testing.T) {
	d := &fakeDriver{attachErr: errors.New("connection refused")}
	m := NewManager(d, []string{"http://localhost:9222", "http://localhost:9223"}, nopLogger{})

	s, err := m.Connect(context.Background(), ConnectOptions{Headless: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.attachCalls != 2 {
		t.Fatalf("expected both debug URLs probed, got %d", d.attachCalls)
	}
	if s.IsCDP || !s.OwnsContext || s.ReusedPage {
		t.Fatalf("expected launched session, got %+v", s)
	}
}

func TestConnectInjectedStateForcesFreshContext(t *testing.T) {
	existing := &fakePage{}
	d := &fakeDriver{attachBrowser: &fakeBrowser{
		contexts: []*fakeContext{{pages: []*fakePage{existing}}},
	}}
	m := NewManager(d, []string{"http://localhost:9222"}, nopLogger{})

	state := map[string]any{"cookies": []any{map[string]any{"name": "sid"}}}
	s, err := m.Connect(context.Background(), ConnectOptions{StorageState: state})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.IsCDP || !s.OwnsContext || s.ReusedPage {
		t.Fatalf("expected fresh owned context on attach, got %+v", s)
	}
	if len(d.attachBrowser.contexts) != 2 {
		t.Fatal("expected a new context created for the injected state")
	}
}

func TestEnsurePageRecreatesClosedPage(t *testing.T) {
	bc := &fakeContext{}
	page, _ := bc.NewPage(context.Background())
	s := &Session{Context: bc, Page: page}
	page.Close(context.Background())

	m := NewManager(&fakeDriver{}, nil, nopLogger{})
	if err := m.EnsurePage(context.Background(), s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Page == page {
		t.Fatal("expected a replacement page")
	}
	if _, err := s.Page.Title(context.Background()); err != nil {
		t.Fatal("expected replacement page to be live")
	}
}

func TestCleanupOwnership(t *testing.T) {
	// Launched session: everything closes.
	launched := &fakeBrowser{}
	bc, _ := launched.NewContext(context.Background(), ContextOptions{})
	page, _ := bc.NewPage(context.Background())
	s := &Session{Browser: launched, Context: bc.(*fakeContext), Page: page, OwnsContext: true}

	m := NewManager(&fakeDriver{}, nil, nopLogger{})
	m.Cleanup(context.Background(), &Session{Browser: s.Browser, Context: bc, Page: page, OwnsContext: true})

	if !launched.closed {
		t.Fatal("expected launched browser closed")
	}
	if !bc.(*fakeContext).closed {
		t.Fatal("expected owned context closed")
	}

	// Attached reused session: nothing closes.
	attached := &fakeBrowser{contexts: []*fakeContext{{pages: []*fakePage{{}}}}}
	abc := attached.contexts[0]
	m.Cleanup(context.Background(), &Session{
		Browser: attached, Context: abc, Page: abc.pages[0],
		IsCDP: true, ReusedPage: true,
	})
	if attached.closed || abc.closed || abc.pages[0].closed {
		t.Fatal("expected attached browser resources untouched")
	}
}

func TestIsTargetClosed(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("Target closed"), true},
		{errors.New("Target page, context or browser has been closed"), true},
		{errors.New("net::ERR_CONNECTION_REFUSED"), false},
		{errors.New("timeout waiting for selector"), false},
	}
	for _, c := range cases {
		if got := IsTargetClosed(c.err); got != c.want {
			t.Errorf("IsTargetClosed(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
