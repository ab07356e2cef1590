package browser

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Error kinds callers render differently.
var (
	// ErrElementNotFound means a login form element never appeared
	ErrElementNotFound = errors.New("element not found")

	// ErrTimeout means a readiness condition was not met in time
	ErrTimeout = errors.New("timed out")

	// ErrSessionActive is returned by Open while another session is live
	ErrSessionActive = errors.New("a browser session is already open")
)

// ElementError reports a selector that could not be located.
type ElementError struct {
	Selector string
	Err      error
}

func (e *ElementError) Error() string {
	return fmt.Sprintf("element not found: %s", e.Selector)
}

// Is matches ErrElementNotFound.
func (e *ElementError) Is(target error) bool {
	return target == ErrElementNotFound
}

func (e *ElementError) Unwrap() error {
	return e.Err
}

// Handle is one live browser session, exclusively owned by a single run.
type Handle interface {
	Login(ctx context.Context, creds Credentials) error
	Capture(ctx context.Context, target Target) (string, error)
	Close() error
}

// Options configures sessions opened by a Manager.
type Options struct {
	// ExecutablePath points at a system Chromium; empty uses the bundled one
	ExecutablePath string

	Headless bool

	// Args are extra Chromium command-line switches
	Args []string

	Viewport Viewport

	// NavigationTimeout bounds a single page load
	NavigationTimeout time.Duration

	// ReadyTimeout bounds the wait for network idle and ready selectors
	ReadyTimeout time.Duration

	// ElementTimeout bounds the wait for each login form element
	ElementTimeout time.Duration

	// SettleDelay is a fixed pause after readiness, may be zero
	SettleDelay time.Duration

	// ArtifactDir receives screenshots
	ArtifactDir string

	// InstallDriver downloads the Playwright driver before first use
	InstallDriver bool
}

// Viewport represents the browser viewport dimensions.
type Viewport struct {
	Width  int
	Height int
}

// Credentials describes the portal login form and the values to submit.
type Credentials struct {
	LoginURL string
	Username string
	Password string

	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
}

// Target is one page to capture.
type Target struct {
	Name string
	URL  string

	// ReadySelector, when set, must become visible before the screenshot
	ReadySelector string
}

// Default values used when Options leaves a field zero.
const (
	DefaultViewportWidth     = 1920
	DefaultViewportHeight    = 1080
	DefaultNavigationTimeout = 60 * time.Second
	DefaultReadyTimeout      = 20 * time.Second
	DefaultElementTimeout    = 15 * time.Second
)

func (o Options) withDefaults() Options {
	if o.Viewport.Width == 0 {
		o.Viewport.Width = DefaultViewportWidth
	}
	if o.Viewport.Height == 0 {
		o.Viewport.Height = DefaultViewportHeight
	}
	if o.NavigationTimeout == 0 {
		o.NavigationTimeout = DefaultNavigationTimeout
	}
	if o.ReadyTimeout == 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.ElementTimeout == 0 {
		o.ElementTimeout = DefaultElementTimeout
	}
	return o
}
