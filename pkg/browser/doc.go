// Package browser drives a headless Chromium through Playwright to log into
// the portal and capture page screenshots.
//
// # Lifecycle
//
// A Manager starts the Playwright driver once per process. Each run opens
// exactly one Session, uses it for login and every capture, and closes it:
//
//	manager := browser.NewManager(opts, logger)
//	if err := manager.Initialize(); err != nil { ... }
//	defer manager.Shutdown()
//
//	session, err := manager.Open(ctx)
//	defer session.Close()
//	err = session.Login(ctx, creds)
//	path, err := session.Capture(ctx, browser.Target{Name: "CALENDARIO", URL: url})
//
// Only one session may be open at a time.
//
// # Readiness
//
// After every navigation the session waits for the network to go idle,
// then for the target's ReadySelector when one is configured, then for the
// optional SettleDelay. Network idle is best effort since pages that poll
// never go idle; a ReadySelector that does not appear fails with ErrTimeout.
//
// # Artifacts
//
// Screenshots are written to a temporary file and renamed into place, so a
// failed capture never leaves a partial PNG behind.
package browser
