package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/entrhq/portalcap/pkg/logging"
	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFakeTimeout = fmt.Errorf("%w: fake deadline exceeded", playwright.ErrTimeout)

// locatorAPI is embedded under a name that does not shadow Locator.Locator.
type locatorAPI = playwright.Locator

var (
	_ playwright.Locator = (*fakeLocator)(nil)
	_ playwright.Page    = (*fakePage)(nil)
)

type fakeLocator struct {
	locatorAPI
	waitErr  error
	fillErr  error
	clickErr error
	filled   string
	clicked  bool
}

func (l *fakeLocator) WaitFor(options ...playwright.LocatorWaitForOptions) error {
	return l.waitErr
}

func (l *fakeLocator) Fill(value string, options ...playwright.LocatorFillOptions) error {
	l.filled = value
	return l.fillErr
}

func (l *fakeLocator) Click(options ...playwright.LocatorClickOptions) error {
	l.clicked = true
	return l.clickErr
}

type fakePage struct {
	playwright.Page
	url           string
	visits        []string
	gotoErr       map[string]error
	loadStateErr  error
	locators      map[string]*fakeLocator
	screenshot    []byte
	screenshotErr error
	closed        int
}

func newFakePage() *fakePage {
	return &fakePage{
		url:        "about:blank",
		gotoErr:    map[string]error{},
		locators:   map[string]*fakeLocator{},
		screenshot: []byte("\x89PNG fake"),
	}
}

func (p *fakePage) Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error) {
	p.visits = append(p.visits, url)
	if err := p.gotoErr[url]; err != nil {
		return nil, err
	}
	p.url = url
	return nil, nil
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) WaitForLoadState(options ...playwright.PageWaitForLoadStateOptions) error {
	return p.loadStateErr
}

func (p *fakePage) Locator(selector string, options ...playwright.PageLocatorOptions) playwright.Locator {
	if l, ok := p.locators[selector]; ok {
		return l
	}
	return &fakeLocator{waitErr: errFakeTimeout}
}

func (p *fakePage) Screenshot(options ...playwright.PageScreenshotOptions) ([]byte, error) {
	return p.screenshot, p.screenshotErr
}

func (p *fakePage) Close(options ...playwright.PageCloseOptions) error {
	p.closed++
	return nil
}

func testCredentials() Credentials {
	return Credentials{
		LoginURL:         "https://portal.example.edu/",
		Username:         "student",
		Password:         "secret",
		UsernameSelector: "#user_id",
		PasswordSelector: "#password",
		SubmitSelector:   "#entry-login",
	}
}

func newTestSession(t *testing.T, page *fakePage) *Session {
	t.Helper()
	return newSession(page, Options{ArtifactDir: t.TempDir()}, logging.Discard("browser"))
}

func loginPage() *fakePage {
	page := newFakePage()
	page.locators["#user_id"] = &fakeLocator{}
	page.locators["#password"] = &fakeLocator{}
	page.locators["#entry-login"] = &fakeLocator{}
	return page
}

func TestSession_Login(t *testing.T) {
	page := loginPage()
	session := newTestSession(t, page)

	err := session.Login(context.Background(), testCredentials())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://portal.example.edu/"}, page.visits)
	assert.Equal(t, "student", page.locators["#user_id"].filled)
	assert.Equal(t, "secret", page.locators["#password"].filled)
	assert.True(t, page.locators["#entry-login"].clicked)
}

func TestSession_Login_ElementNotFound(t *testing.T) {
	page := loginPage()
	delete(page.locators, "#password")
	session := newTestSession(t, page)

	err := session.Login(context.Background(), testCredentials())
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrElementNotFound)
	var elemErr *ElementError
	require.True(t, errors.As(err, &elemErr))
	assert.Equal(t, "#password", elemErr.Selector)
	assert.False(t, page.locators["#entry-login"].clicked, "submit must not be clicked")
}

func TestSession_Login_LookupFailureIsNotElementNotFound(t *testing.T) {
	page := loginPage()
	page.locators["#user_id"].waitErr = errors.New("target closed")
	session := newTestSession(t, page)

	err := session.Login(context.Background(), testCredentials())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrElementNotFound)
}

func TestSession_Login_NavigationTimeout(t *testing.T) {
	page := loginPage()
	page.gotoErr["https://portal.example.edu/"] = errFakeTimeout
	session := newTestSession(t, page)

	err := session.Login(context.Background(), testCredentials())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSession_Capture(t *testing.T) {
	page := newFakePage()
	session := newTestSession(t, page)

	path, err := session.Capture(context.Background(), Target{
		Name: "CALENDARIO",
		URL:  "https://portal.example.edu/ultra/calendar",
	})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(session.opts.ArtifactDir, "CALENDARIO.png"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, page.screenshot, data)
	assert.Equal(t, "https://portal.example.edu/ultra/calendar", session.CurrentURL)
}

func TestSession_Capture_ScreenshotFailureLeavesNoFile(t *testing.T) {
	page := newFakePage()
	page.screenshotErr = errors.New("renderer crashed")
	session := newTestSession(t, page)

	_, err := session.Capture(context.Background(), Target{Name: "CALENDARIO", URL: "https://x/calendar"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "screenshot failed")

	entries, err := os.ReadDir(session.opts.ArtifactDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSession_Capture_ReadySelectorTimeout(t *testing.T) {
	page := newFakePage()
	session := newTestSession(t, page)

	_, err := session.Capture(context.Background(), Target{
		Name:          "CALIFICACIONES",
		URL:           "https://x/grades",
		ReadySelector: "#grades-table",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSession_Capture_ReadySelectorVisible(t *testing.T) {
	page := newFakePage()
	page.locators["#grades-table"] = &fakeLocator{}
	session := newTestSession(t, page)

	_, err := session.Capture(context.Background(), Target{
		Name:          "CALIFICACIONES",
		URL:           "https://x/grades",
		ReadySelector: "#grades-table",
	})
	assert.NoError(t, err)
}

func TestSession_Capture_NetworkIdleTimeoutTolerated(t *testing.T) {
	page := newFakePage()
	page.loadStateErr = errFakeTimeout
	session := newTestSession(t, page)

	_, err := session.Capture(context.Background(), Target{Name: "ACTIVIDAD_RECIENTE", URL: "https://x/stream"})
	assert.NoError(t, err)
}

func TestSession_Capture_LoadStateFailure(t *testing.T) {
	page := newFakePage()
	page.loadStateErr = errors.New("page crashed")
	session := newTestSession(t, page)

	_, err := session.Capture(context.Background(), Target{Name: "ACTIVIDAD_RECIENTE", URL: "https://x/stream"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestSession_Capture_CanceledContext(t *testing.T) {
	page := newFakePage()
	session := newTestSession(t, page)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := session.Capture(ctx, Target{Name: "CALENDARIO", URL: "https://x/calendar"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, page.visits)
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	page := newFakePage()
	session := newTestSession(t, page)

	released := 0
	session.onClose = func(*Session) { released++ }

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())

	assert.Equal(t, 1, page.closed)
	assert.Equal(t, 1, released)
}

func TestArtifactName(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{"CALENDARIO", "CALENDARIO.png"},
		{"ACTIVIDAD_RECIENTE", "ACTIVIDAD_RECIENTE.png"},
		{"  grades page ", "grades_page.png"},
		{"../etc/passwd", "___etc_passwd.png"},
		{"Calificación", "Calificaci_n.png"},
		{"", "page.png"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.want, ArtifactName(tt.label))
		})
	}
}

func TestElementError(t *testing.T) {
	err := fmt.Errorf("login: %w", &ElementError{Selector: "#user_id", Err: errFakeTimeout})

	assert.ErrorIs(t, err, ErrElementNotFound)
	assert.ErrorIs(t, err, playwright.ErrTimeout)
	assert.Contains(t, err.Error(), "element not found: #user_id")
}
