package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/portalcap/pkg/logging"
	"github.com/playwright-community/playwright-go"
)

// Session is one Chromium page with its context and browser.
type Session struct {
	page    playwright.Page
	context playwright.BrowserContext
	browser playwright.Browser

	opts    Options
	logger  *logging.Logger
	onClose func(*Session)

	closeOnce sync.Once
	closeErr  error

	// CreatedAt is when the session was opened
	CreatedAt time.Time

	// CurrentURL is the URL after the last navigation
	CurrentURL string
}

func newSession(page playwright.Page, opts Options, logger *logging.Logger) *Session {
	return &Session{
		page:       page,
		opts:       opts.withDefaults(),
		logger:     logger,
		CreatedAt:  time.Now(),
		CurrentURL: "about:blank",
	}
}

// Login fills and submits the portal login form.
func (s *Session) Login(ctx context.Context, creds Credentials) error {
	if err := s.navigate(ctx, creds.LoginURL); err != nil {
		return err
	}
	if err := s.waitReady(ctx, ""); err != nil {
		return err
	}

	fields := []struct {
		selector string
		value    string
	}{
		{creds.UsernameSelector, creds.Username},
		{creds.PasswordSelector, creds.Password},
	}
	for _, field := range fields {
		locator, err := s.locate(ctx, field.selector)
		if err != nil {
			return err
		}
		if err := locator.Fill(field.value); err != nil {
			return fmt.Errorf("fill %s failed: %w", field.selector, classify(err))
		}
	}

	submit, err := s.locate(ctx, creds.SubmitSelector)
	if err != nil {
		return err
	}
	if err := submit.Click(); err != nil {
		return fmt.Errorf("click %s failed: %w", creds.SubmitSelector, classify(err))
	}
	s.logger.Infof("login form submitted")

	if err := s.waitReady(ctx, ""); err != nil {
		return err
	}
	s.CurrentURL = s.page.URL()
	return nil
}

// Capture navigates to the target and saves a viewport screenshot to
// <ArtifactDir>/<label>.png, returning the path.
func (s *Session) Capture(ctx context.Context, target Target) (string, error) {
	if err := s.navigate(ctx, target.URL); err != nil {
		return "", err
	}
	if err := s.waitReady(ctx, target.ReadySelector); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := s.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return "", fmt.Errorf("screenshot failed: %w", classify(err))
	}

	path := filepath.Join(s.opts.ArtifactDir, ArtifactName(target.Name))
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}
	s.logger.Infof("captured %s (%d bytes) to %s", target.Name, len(data), path)
	return path, nil
}

// Close releases page, context and browser. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if s.page != nil {
			if err := s.page.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.context != nil {
			if err := s.context.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.browser != nil {
			if err := s.browser.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.onClose != nil {
			s.onClose(s)
		}
		if len(errs) > 0 {
			s.closeErr = fmt.Errorf("errors closing session: %w", errors.Join(errs...))
		}
		s.logger.Infof("browser session closed")
	})
	return s.closeErr
}

func (s *Session) navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	waitUntil := playwright.WaitUntilState("domcontentloaded")
	timeout := millis(s.opts.NavigationTimeout)
	if _, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: &waitUntil,
		Timeout:   &timeout,
	}); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, classify(err))
	}

	s.CurrentURL = s.page.URL()
	return nil
}

// waitReady waits for network idle, then the optional selector, then the
// settle delay.
func (s *Session) waitReady(ctx context.Context, selector string) error {
	timeout := millis(s.opts.ReadyTimeout)

	state := playwright.LoadState("networkidle")
	if err := s.page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   &state,
		Timeout: &timeout,
	}); err != nil {
		if !errors.Is(err, playwright.ErrTimeout) {
			return fmt.Errorf("wait for load state failed: %w", err)
		}
		s.logger.Warnf("network did not go idle on %s within %s, continuing", s.page.URL(), s.opts.ReadyTimeout)
	}

	if selector != "" {
		visible := playwright.WaitForSelectorState("visible")
		if err := s.page.Locator(selector).WaitFor(playwright.LocatorWaitForOptions{
			State:   &visible,
			Timeout: &timeout,
		}); err != nil {
			return fmt.Errorf("wait for %s failed: %w", selector, classify(err))
		}
	}

	return sleepContext(ctx, s.opts.SettleDelay)
}

// locate waits for selector to be attached and returns its locator.
func (s *Session) locate(ctx context.Context, selector string) (playwright.Locator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	locator := s.page.Locator(selector)
	attached := playwright.WaitForSelectorState("attached")
	timeout := millis(s.opts.ElementTimeout)
	if err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   &attached,
		Timeout: &timeout,
	}); err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, &ElementError{Selector: selector, Err: err}
		}
		return nil, fmt.Errorf("lookup %s failed: %w", selector, err)
	}
	return locator, nil
}

// classify tags Playwright timeouts with ErrTimeout.
func classify(err error) error {
	if errors.Is(err, playwright.ErrTimeout) && !errors.Is(err, ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ArtifactName turns a page label into a safe PNG file name.
func ArtifactName(label string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(label) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "page.png"
	}
	return b.String() + ".png"
}

// writeFileAtomic writes data next to path and renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create artifact directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".capture-*.png")
	if err != nil {
		return fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename artifact: %w", err)
	}
	return nil
}
