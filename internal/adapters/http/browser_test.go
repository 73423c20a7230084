package web

import (
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/playwright-community/playwright-go"

	"verrou/internal/adapters/http/middleware"
	"verrou/internal/adapters/http/perf"
	"verrou/internal/domain/plan"
	"verrou/internal/domain/session"
)

// newBrowserPage starts the full stack on a local listener and opens a headless page.
// Skipped unless VERROU_BROWSER_TESTS=1 because it needs installed browsers.
func newBrowserPage(t *testing.T) (playwright.Page, string) {
	t.Helper()
	if testing.Short() || os.Getenv("VERROU_BROWSER_TESTS") != "1" {
		t.Skip("set VERROU_BROWSER_TESTS=1 to run browser tests")
	}

	db := openTestDB(t)
	collector := perf.NewCollector(perf.DefaultRingSize)
	store := newStateStore(t, db, collector)

	srv := httptest.NewUnstartedServer(nil)
	host := srv.Listener.Addr().String()
	middleware.ExtraTrustedOrigins = append(middleware.ExtraTrustedOrigins, host)
	srv.Config.Handler = NewMux(Deps{State: store, DB: db, Collector: collector}, Options{})
	srv.Start()
	t.Cleanup(srv.Close)

	pw, err := playwright.Run()
	if err != nil {
		t.Fatalf("failed to start Playwright: %v", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		t.Fatalf("failed to launch browser: %v", err)
	}
	t.Cleanup(func() {
		browser.Close()
		pw.Stop()
	})

	page, err := browser.NewPage()
	if err != nil {
		t.Fatalf("failed to open page: %v", err)
	}
	return page, srv.URL
}

// TestBrowser_FullProtocol walks calibration, admin login, validation and reset.
func TestBrowser_FullProtocol(t *testing.T) {
	page, baseURL := newBrowserPage(t)
	wait := playwright.LocatorWaitForOptions{Timeout: playwright.Float(5000)}

	if _, err := page.Goto(baseURL + "/"); err != nil {
		t.Fatalf("failed to open app: %v", err)
	}

	// Invalid calibration keeps the form and shows the warning.
	if err := page.Locator("#generateBtn").Click(); err != nil {
		t.Fatalf("failed to click generate: %v", err)
	}
	if err := page.Locator("#flash >> text=" + session.MsgInvalidCalibration).WaitFor(wait); err != nil {
		t.Error("calibration warning not shown")
	}

	fields := map[string]string{
		"input[name=studentName]":        "Jean Dupont",
		"input[name=segmentDescription]": "Mesure 6 -> 7",
		"input[name=baselineTempo]":      "100",
		"input[name=ruptureTempo]":       "80",
	}
	for selector, value := range fields {
		if err := page.Locator(selector).Fill(value); err != nil {
			t.Fatalf("failed to fill %s: %v", selector, err)
		}
	}
	if err := page.Locator("#generateBtn").Click(); err != nil {
		t.Fatalf("failed to click generate: %v", err)
	}
	if err := page.Locator("#protocol").WaitFor(wait); err != nil {
		t.Fatal("protocol not shown after generation")
	}
	if n, _ := page.Locator("li.step").Count(); n != 10 {
		t.Errorf("step count = %d, want 10", n)
	}

	// The student cannot tick steps.
	if disabled, _ := page.Locator("#" + plan.IDZero + " button.check").IsDisabled(); !disabled {
		t.Error("check button should be disabled outside instructor mode")
	}
	href, _ := page.Locator("#" + plan.IDZero + " a.video").GetAttribute("href")
	if !strings.HasPrefix(href, "https://wa.me/?text=") {
		t.Errorf("video href = %q", href)
	}

	// Wrong code, then the right one.
	if err := page.Locator("#adminToggle").Click(); err != nil {
		t.Fatalf("failed to open admin prompt: %v", err)
	}
	page.Locator("#adminCode").Fill("wrong")
	page.Locator("#adminLoginBtn").Click()
	if err := page.Locator("#flash >> text=" + session.MsgWrongAdminCode).WaitFor(wait); err != nil {
		t.Error("wrong code message not shown")
	}
	page.Locator("#adminCode").Fill(testAdminCode)
	page.Locator("#adminLoginBtn").Click()
	if err := page.Locator("#adminBadge").WaitFor(wait); err != nil {
		t.Fatal("instructor mode not enabled")
	}

	if err := page.Locator("#" + plan.IDZero + " button.check").Click(); err != nil {
		t.Fatalf("failed to validate step: %v", err)
	}
	if err := page.Locator("#" + plan.IDZero + " >> text=" + plan.BadgeCompleted).WaitFor(wait); err != nil {
		t.Error("step-zero not validated")
	}
	if n, _ := page.Locator("#" + plan.IDZero + " a.video").Count(); n != 0 {
		t.Error("validated step still offers a video link")
	}

	// Reset with confirmation.
	page.Locator("#resetLink").Click()
	page.Locator("#confirmReset").Click()
	if err := page.Locator("#calibrationForm").WaitFor(wait); err != nil {
		t.Error("reset did not return to calibration")
	}
	if err := page.Locator("#adminBadge").WaitFor(wait); err != nil {
		t.Error("instructor mode should survive reset")
	}
}
