// Package browser executes touchpoints against LinkedIn in a headless
// Chrome session. Each account handle gets its own browser profile so
// cookies and login state survive restarts. Requires Chrome/Chromium to be
// installed on the system.
package browser

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jonathan/open-outreach/internal/db"
)

const (
	loginURL = "https://www.linkedin.com/login"
	feedURL  = "https://www.linkedin.com/feed/"
)

var loginSelectors = struct {
	email    string
	password string
	submit   string
}{
	email:    `input#username`,
	password: `input#password`,
	submit:   `button[type="submit"]`,
}

// AccountSource loads account credentials and proxy settings.
type AccountSource interface {
	GetAccount(ctx context.Context, handle string) (*db.Account, error)
}

// Options configures the session manager.
type Options struct {
	// Headless toggles headless Chrome. Run headful when debugging selectors.
	Headless bool
	// StateDir is the root for per-handle browser profiles and failure
	// screenshots.
	StateDir string
}

// Manager owns one browser session per account handle and dispatches
// touchpoint executions to them. The engine serializes runs per handle, so a
// session is never used by two runs at once; the manager's lock only guards
// the session map itself.
type Manager struct {
	accounts AccountSource
	opts     Options

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a session manager rooted at opts.StateDir.
func NewManager(accounts AccountSource, opts Options) *Manager {
	if opts.StateDir == "" {
		opts.StateDir = filepath.Join(os.TempDir(), "open-outreach")
	}
	return &Manager{
		accounts: accounts,
		opts:     opts,
		sessions: make(map[string]*session),
	}
}

// Close tears down every live session.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for handle, s := range m.sessions {
		s.close()
		delete(m.sessions, handle)
	}
}

// session is a logged-in browser for one handle. ctx outlives individual
// executions; per-action deadlines come from the caller's context.
type session struct {
	handle string
	ctx    context.Context

	cancels []context.CancelFunc
}

func (s *session) close() {
	for i := len(s.cancels) - 1; i >= 0; i-- {
		s.cancels[i]()
	}
	log.Printf("[BROWSER] Session closed for %s", s.handle)
}

// getSession returns the live session for a handle, launching and logging in
// a fresh browser when none exists or the old one died.
func (m *Manager) getSession(ctx context.Context, acc *db.Account) (*session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[acc.Handle]; ok {
		if s.ctx.Err() == nil {
			m.mu.Unlock()
			return s, nil
		}
		s.close()
		delete(m.sessions, acc.Handle)
	}
	m.mu.Unlock()

	s, err := m.launch(ctx, acc)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[acc.Handle] = s
	m.mu.Unlock()
	return s, nil
}

// launch starts Chrome with the handle's persistent profile and ensures the
// session is authenticated.
func (m *Manager) launch(ctx context.Context, acc *db.Account) (*session, error) {
	profileDir := filepath.Join(m.opts.StateDir, "profiles", acc.Handle)
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile dir: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserDataDir(profileDir),
	)
	if acc.Proxy != nil && *acc.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(*acc.Proxy))
	}

	// The allocator hangs off context.Background so the session survives the
	// launching run's deadline.
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	s := &session{
		handle:  acc.Handle,
		ctx:     browserCtx,
		cancels: []context.CancelFunc{cancelAlloc, cancelBrowser},
	}

	log.Printf("[BROWSER] Launching browser for %s (headless=%t)", acc.Handle, m.opts.Headless)
	if err := s.ensureLoggedIn(ctx, acc); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// ensureLoggedIn opens the feed and, if LinkedIn bounces to the login page,
// runs the credential flow. A persisted profile usually skips the typing.
func (s *session) ensureLoggedIn(ctx context.Context, acc *db.Account) error {
	var currentURL string
	if err := s.run(ctx,
		chromedp.Navigate(feedURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(2*time.Second),
		chromedp.Location(&currentURL),
	); err != nil {
		return fmt.Errorf("failed to open feed: %w", err)
	}
	if strings.Contains(currentURL, "/feed") {
		log.Printf("[BROWSER] Saved session valid for %s", acc.Handle)
		return nil
	}

	log.Printf("[BROWSER] Fresh login sequence starting for %s", acc.Handle)
	if err := s.run(ctx,
		chromedp.Navigate(loginURL),
		chromedp.WaitVisible(loginSelectors.email),
		chromedp.SendKeys(loginSelectors.email, acc.Username),
		chromedp.Sleep(time.Second),
		chromedp.SendKeys(loginSelectors.password, acc.Password),
		chromedp.Sleep(time.Second),
		chromedp.Click(loginSelectors.submit),
		chromedp.WaitReady("body"),
		chromedp.Sleep(3*time.Second),
		chromedp.Location(&currentURL),
	); err != nil {
		return fmt.Errorf("login flow failed: %w", err)
	}
	if !strings.Contains(currentURL, "/feed") {
		return fmt.Errorf("login failed for %s: landed on %s", acc.Handle, currentURL)
	}
	log.Printf("[BROWSER] Login successful for %s", acc.Handle)
	return nil
}

// run executes chromedp actions against the session browser under the
// caller's deadline.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := mergeDeadline(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// mergeDeadline bounds the session context with the caller's deadline and
// cancellation without adopting the caller's values.
func mergeDeadline(sessionCtx, callerCtx context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := callerCtx.Deadline(); ok {
		ctx, cancel := context.WithDeadline(sessionCtx, deadline)
		stop := context.AfterFunc(callerCtx, cancel)
		return ctx, func() { stop(); cancel() }
	}
	ctx, cancel := context.WithCancel(sessionCtx)
	stop := context.AfterFunc(callerCtx, cancel)
	return ctx, func() { stop(); cancel() }
}

// captureFailure snapshots the current page for post-mortem debugging.
// Returns the saved path, or "" if the capture itself failed.
func (m *Manager) captureFailure(ctx context.Context, s *session, runID string) string {
	dir := filepath.Join(m.opts.StateDir, "screenshots")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Printf("[BROWSER] Failed to create screenshot dir: %v", err)
		return ""
	}

	name := runID
	if name == "" {
		name = fmt.Sprintf("%s-%d", s.handle, time.Now().Unix())
	}
	path := filepath.Join(dir, name+".png")

	var buf []byte
	if err := s.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		log.Printf("[BROWSER] Screenshot capture failed for %s: %v", s.handle, err)
		return ""
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		log.Printf("[BROWSER] Failed to write screenshot: %v", err)
		return ""
	}
	return path
}
