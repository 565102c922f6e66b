package browser

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const attachProbeTimeout = 3 * time.Second

// Logger is the logging surface the manager needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Session holds the live browser handles for one execution, plus the
// ownership facts Cleanup needs to know what it may close.
type Session struct {
	Browser Browser
	Context BrowserContext
	Page    Page

	// IsCDP is true when attached to a user's running browser. Attached
	// browsers are never closed by the engine.
	IsCDP bool

	// OwnsContext is true when the engine created the context (launch, or
	// CDP attach with injected storage state).
	OwnsContext bool

	// ReusedPage is true when the session adopted an already-open tab.
	ReusedPage bool
}

// ConnectOptions controls session establishment.
type ConnectOptions struct {
	Headless     bool
	StorageState map[string]any
}

// Manager establishes and tears down browser sessions. Attach-over-CDP is
// preferred so runs happen in the user's logged-in browser; a managed
// launch is the fallback.
type Manager struct {
	driver    Driver
	debugURLs []string
	log       Logger
}

// NewManager creates a manager probing the given CDP debug URLs in order.
func NewManager(driver Driver, debugURLs []string, log Logger) *Manager {
	return &Manager{driver: driver, debugURLs: debugURLs, log: log}
}

// Connect establishes a session. Each debug URL is probed with a short
// timeout; the first successful attach wins. When no attach succeeds a
// fresh browser is launched.
func (m *Manager) Connect(ctx context.Context, opts ConnectOptions) (*Session, error) {
	for _, url := range m.debugURLs {
		probeCtx, cancel := context.WithTimeout(ctx, attachProbeTimeout)
		b, err := m.driver.ConnectOverCDP(probeCtx, url)
		cancel()
		if err != nil {
			m.log.Warn("CDP attach failed", "url", url, "error", err)
			continue
		}
		m.log.Info("attached to running browser", "url", url)
		return m.attachSession(ctx, b, opts)
	}

	m.log.Info("no debug browser reachable, launching managed browser", "headless", opts.Headless)
	b, err := m.driver.Launch(ctx, LaunchOptions{Headless: opts.Headless})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bc, err := b.NewContext(ctx, ContextOptions{StorageState: opts.StorageState})
	if err != nil {
		b.Close(ctx)
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := bc.NewPage(ctx)
	if err != nil {
		b.Close(ctx)
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &Session{Browser: b, Context: bc, Page: page, OwnsContext: true}, nil
}

// attachSession builds a session on an attached browser. Injected storage
// state forces a fresh context; otherwise the user's existing context and
// frontmost tab are adopted.
func (m *Manager) attachSession(ctx context.Context, b Browser, opts ConnectOptions) (*Session, error) {
	if len(opts.StorageState) > 0 {
		bc, err := b.NewContext(ctx, ContextOptions{StorageState: opts.StorageState})
		if err != nil {
			return nil, fmt.Errorf("failed to create context on attached browser: %w", err)
		}
		page, err := bc.NewPage(ctx)
		if err != nil {
			bc.Close(ctx)
			return nil, fmt.Errorf("failed to open page: %w", err)
		}
		return &Session{Browser: b, Context: bc, Page: page, IsCDP: true, OwnsContext: true}, nil
	}

	contexts := b.Contexts()
	var bc BrowserContext
	if len(contexts) > 0 {
		bc = contexts[0]
	} else {
		fresh, err := b.NewContext(ctx, ContextOptions{})
		if err != nil {
			return nil, fmt.Errorf("failed to create context on attached browser: %w", err)
		}
		return sessionWithNewPage(ctx, b, fresh, true, true)
	}

	// Blank tabs are never adopted: the tab worth driving is the one the
	// user actually has a site open in.
	for _, p := range bc.Pages() {
		if u := p.URL(); u != "" && u != "about:blank" {
			return &Session{Browser: b, Context: bc, Page: p, IsCDP: true, ReusedPage: true}, nil
		}
	}
	return sessionWithNewPage(ctx, b, bc, true, false)
}

func sessionWithNewPage(ctx context.Context, b Browser, bc BrowserContext, isCDP, ownsContext bool) (*Session, error) {
	page, err := bc.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return &Session{Browser: b, Context: bc, Page: page, IsCDP: isCDP, OwnsContext: ownsContext}, nil
}

// EnsurePage recreates the session's page inside the same context if the
// current one is gone, so a mid-run tab close does not kill the walk.
func (m *Manager) EnsurePage(ctx context.Context, s *Session) error {
	if s.Page != nil {
		if _, err := s.Page.Title(ctx); err == nil {
			return nil
		}
	}
	page, err := s.Context.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to recreate page: %w", err)
	}
	m.log.Warn("page was closed, opened a replacement tab")
	s.Page = page
	s.ReusedPage = false
	return nil
}

// Cleanup releases what the session owns. Reused pages and attached
// browsers stay open; engine-created pages, contexts and launched browsers
// are closed. Errors are logged and swallowed.
func (m *Manager) Cleanup(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	if s.Page != nil && !s.ReusedPage {
		if err := s.Page.Close(ctx); err != nil && !IsTargetClosed(err) {
			m.log.Warn("page close failed", "error", err)
		}
	}
	if s.Context != nil && s.OwnsContext {
		if err := s.Context.Close(ctx); err != nil && !IsTargetClosed(err) {
			m.log.Warn("context close failed", "error", err)
		}
	}
	if s.Browser != nil && !s.IsCDP {
		if err := s.Browser.Close(ctx); err != nil && !IsTargetClosed(err) {
			m.log.Warn("browser close failed", "error", err)
		}
	}
}

// ForceClose tears down the session's page and owned context immediately,
// used by Stop to unblock any in-flight driver call.
func (m *Manager) ForceClose(ctx context.Context, s *Session) {
	if s == nil {
		return
	}
	if s.Page != nil {
		s.Page.Close(ctx)
	}
	if s.Context != nil && s.OwnsContext {
		s.Context.Close(ctx)
	}
}

// IsTargetClosed reports whether err is the driver's signal that the page,
// context or browser went away under us.
func IsTargetClosed(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "target closed") ||
		strings.Contains(msg, "target page, context or browser has been closed") ||
		strings.Contains(msg, "browser has been closed")
}
