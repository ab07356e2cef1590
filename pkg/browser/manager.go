package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/entrhq/portalcap/pkg/logging"
	"github.com/playwright-community/playwright-go"
)

// Manager owns the Playwright driver and the single live session.
type Manager struct {
	mu          sync.Mutex
	opts        Options
	logger      *logging.Logger
	playwright  *playwright.Playwright
	active      *Session
	initialized bool
}

// NewManager creates a manager. Call Initialize before Open.
func NewManager(opts Options, logger *logging.Logger) *Manager {
	return &Manager{
		opts:   opts.withDefaults(),
		logger: logger,
	}
}

// Initialize installs (when configured) and starts the Playwright driver.
// It is idempotent.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	// A system Chromium makes the bundled download unnecessary.
	if m.opts.ExecutablePath != "" {
		runOpts.SkipInstallBrowsers = true
	}

	if m.opts.InstallDriver {
		if err := playwright.Install(runOpts); err != nil {
			return fmt.Errorf("failed to install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return fmt.Errorf("failed to start playwright: %w", err)
	}

	m.playwright = pw
	m.initialized = true
	m.logger.Infof("playwright driver started")
	return nil
}

// Open launches Chromium and returns a fresh session.
func (m *Manager) Open(ctx context.Context) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return nil, fmt.Errorf("browser manager not initialized")
	}
	if m.active != nil {
		return nil, ErrSessionActive
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless:        playwright.Bool(m.opts.Headless),
		Args:            m.opts.Args,
		ChromiumSandbox: playwright.Bool(false),
	}
	if m.opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(m.opts.ExecutablePath)
	}

	browser, err := m.playwright.Chromium.Launch(launchOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  m.opts.Viewport.Width,
			Height: m.opts.Viewport.Height,
		},
	})
	if err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}
	page.SetDefaultTimeout(millis(m.opts.NavigationTimeout))

	session := newSession(page, m.opts, m.logger)
	session.browser = browser
	session.context = bctx
	session.onClose = m.release

	m.active = session
	m.logger.Infof("browser session opened (headless=%t, viewport=%dx%d)",
		m.opts.Headless, m.opts.Viewport.Width, m.opts.Viewport.Height)
	return session, nil
}

func (m *Manager) release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == s {
		m.active = nil
	}
}

// HasSession reports whether a session is currently open.
func (m *Manager) HasSession() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil
}

// Shutdown closes any open session and stops the driver.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()

	if active != nil {
		_ = active.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized && m.playwright != nil {
		if err := m.playwright.Stop(); err != nil {
			return fmt.Errorf("failed to stop playwright: %w", err)
		}
		m.initialized = false
		m.logger.Infof("playwright driver stopped")
	}
	return nil
}

func millis(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
