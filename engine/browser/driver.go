package browser

import (
	"context"
	"time"
)

// Driver abstracts the browser automation backend. A production deployment
// wires a CDP-capable implementation; tests use fakes.
type Driver interface {
	// ConnectOverCDP attaches to an already-running browser via its
	// DevTools debug URL.
	ConnectOverCDP(ctx context.Context, url string) (Browser, error)

	// Launch starts a fresh managed browser.
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// LaunchOptions controls a managed browser launch.
type LaunchOptions struct {
	Headless bool
}

// ContextOptions controls creation of an isolated browser context.
type ContextOptions struct {
	// StorageState seeds cookies and origin storage, opaque to the engine.
	StorageState map[string]any
}

// Browser is a connected browser process.
type Browser interface {
	Contexts() []BrowserContext
	NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error)
	Close(ctx context.Context) error
}

// BrowserContext is an isolated cookie/storage universe within a browser.
type BrowserContext interface {
	Pages() []Page
	NewPage(ctx context.Context) (Page, error)
	StorageState(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Page is a single tab. All operations honor the context deadline and
// return driver errors verbatim so they can be classified upstream.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, text string) error
	Press(ctx context.Context, selector, key string) error
	InnerText(ctx context.Context, selector string) (string, error)
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Count(ctx context.Context, selector string) (int, error)
	IsVisible(ctx context.Context, selector string) (bool, error)
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
	WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error
	URL() string
	Title(ctx context.Context) (string, error)
	Close(ctx context.Context) error
}
