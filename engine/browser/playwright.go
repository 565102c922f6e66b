package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightDriver drives Chromium through the Playwright protocol. It is
// the production Driver implementation; everything above it only sees the
// Driver interfaces.
type PlaywrightDriver struct {
	pw *playwright.Playwright
}

// NewPlaywrightDriver starts the Playwright runtime.
func NewPlaywrightDriver() (*PlaywrightDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	return &PlaywrightDriver{pw: pw}, nil
}

// Stop shuts the Playwright runtime down.
func (d *PlaywrightDriver) Stop() error {
	return d.pw.Stop()
}

func (d *PlaywrightDriver) ConnectOverCDP(ctx context.Context, url string) (Browser, error) {
	timeout := float64(attachProbeTimeout.Milliseconds())
	if deadline, ok := ctx.Deadline(); ok {
		timeout = float64(time.Until(deadline).Milliseconds())
	}
	b, err := d.pw.Chromium.ConnectOverCDP(url, playwright.BrowserTypeConnectOverCDPOptions{
		Timeout: playwright.Float(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("CDP connect to %s failed: %w", url, err)
	}
	return &pwBrowser{b: b}, nil
}

func (d *PlaywrightDriver) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	b, err := d.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("browser launch failed: %w", err)
	}
	return &pwBrowser{b: b}, nil
}

type pwBrowser struct {
	b playwright.Browser
}

func (w *pwBrowser) Contexts() []BrowserContext {
	contexts := w.b.Contexts()
	out := make([]BrowserContext, len(contexts))
	for i, c := range contexts {
		out[i] = &pwContext{c: c}
	}
	return out
}

func (w *pwBrowser) NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error) {
	var newCtxOpts playwright.BrowserNewContextOptions
	if len(opts.StorageState) > 0 {
		state, err := toOptionalStorageState(opts.StorageState)
		if err != nil {
			return nil, err
		}
		newCtxOpts.StorageState = state
	}
	c, err := w.b.NewContext(newCtxOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	return &pwContext{c: c}, nil
}

func (w *pwBrowser) Close(ctx context.Context) error {
	return w.b.Close()
}

type pwContext struct {
	c playwright.BrowserContext
}

func (w *pwContext) Pages() []Page {
	pages := w.c.Pages()
	out := make([]Page, len(pages))
	for i, p := range pages {
		out[i] = &pwPage{p: p}
	}
	return out
}

func (w *pwContext) NewPage(ctx context.Context) (Page, error) {
	p, err := w.c.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &pwPage{p: p}, nil
}

func (w *pwContext) StorageState(ctx context.Context) (map[string]any, error) {
	state, err := w.c.StorageState()
	if err != nil {
		return nil, fmt.Errorf("failed to read storage state: %w", err)
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode storage state: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode storage state: %w", err)
	}
	return out, nil
}

func (w *pwContext) Close(ctx context.Context) error {
	return w.c.Close()
}

type pwPage struct {
	p playwright.Page
}

func (w *pwPage) Navigate(ctx context.Context, url string) error {
	_, err := w.p.Goto(url)
	return err
}

func (w *pwPage) Click(ctx context.Context, selector string) error {
	return w.p.Click(selector)
}

func (w *pwPage) Fill(ctx context.Context, selector, text string) error {
	return w.p.Fill(selector, text)
}

func (w *pwPage) Press(ctx context.Context, selector, key string) error {
	return w.p.Press(selector, key)
}

func (w *pwPage) InnerText(ctx context.Context, selector string) (string, error) {
	return w.p.InnerText(selector)
}

func (w *pwPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	_, err := w.p.WaitForSelector(selector, playwright.PageWaitForSelectorOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
	return err
}

func (w *pwPage) Count(ctx context.Context, selector string) (int, error) {
	return w.p.Locator(selector).Count()
}

func (w *pwPage) IsVisible(ctx context.Context, selector string) (bool, error) {
	return w.p.IsVisible(selector)
}

func (w *pwPage) Content(ctx context.Context) (string, error) {
	return w.p.Content()
}

func (w *pwPage) Screenshot(ctx context.Context) ([]byte, error) {
	return w.p.Screenshot(playwright.PageScreenshotOptions{
		Type:    playwright.ScreenshotTypeJpeg,
		Quality: playwright.Int(60),
	})
}

func (w *pwPage) WaitForNetworkIdle(ctx context.Context, timeout time.Duration) error {
	return w.p.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(float64(timeout.Milliseconds())),
	})
}

func (w *pwPage) URL() string {
	return w.p.URL()
}

func (w *pwPage) Title(ctx context.Context) (string, error) {
	return w.p.Title()
}

func (w *pwPage) Close(ctx context.Context) error {
	return w.p.Close()
}

// toOptionalStorageState converts the opaque storage-state map into the
// typed structure the driver wants. Round-tripping through JSON keeps the
// engine free of the driver's cookie schema.
func toOptionalStorageState(state map[string]any) (*playwright.OptionalStorageState, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode injected storage state: %w", err)
	}
	var out playwright.OptionalStorageState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode injected storage state: %w", err)
	}
	return &out, nil
}
