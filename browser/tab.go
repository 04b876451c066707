package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Tab wraps a Rod page with the setup the registry session needs: stealth,
// resource blocking, and form interaction helpers.
type Tab struct {
	Page    *rod.Page
	manager *Manager
}

// OpenTab creates a stealth tab and navigates it to pageURL. Navigation is
// bounded by the manager's NavTimeout, not the run deadline, so one stuck
// load cannot consume the whole budget.
func OpenTab(ctx context.Context, mgr *Manager, pageURL string) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := applyResourceBlocking(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking failed", "error", err)
		}
	}

	t := &Tab{Page: page, manager: mgr}
	if err := t.Navigate(ctx, pageURL); err != nil {
		page.Close()
		return nil, err
	}
	return t, nil
}

// Navigate loads a URL and waits for the load event.
func (t *Tab) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, t.manager.cfg.NavTimeout)
	defer cancel()

	if err := t.Page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil {
		t.manager.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

// HTML serialises the complete DOM as outer HTML.
func (t *Tab) HTML(ctx context.Context) ([]byte, error) {
	res, err := t.Page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("browser: get DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// URL returns the tab's current location.
func (t *Tab) URL(ctx context.Context) (string, error) {
	info, err := t.Page.Context(ctx).Info()
	if err != nil {
		return "", fmt.Errorf("browser: page info: %w", err)
	}
	return info.URL, nil
}

// Screenshot captures the full page as PNG.
func (t *Tab) Screenshot(ctx context.Context) ([]byte, error) {
	data, err := t.Page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: screenshot: %w", err)
	}
	return data, nil
}

// Fill clears an input field and types a value into it.
func (t *Tab) Fill(ctx context.Context, selector, value string) error {
	elCtx, cancel := context.WithTimeout(ctx, t.manager.cfg.ElementTimeout)
	defer cancel()

	el, err := t.Page.Context(elCtx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: element %s: %w", selector, err)
	}
	// Select-all so Input overwrites any prefilled value.
	_ = el.SelectAllText()
	if err := el.Input(value); err != nil {
		return fmt.Errorf("browser: input %s: %w", selector, err)
	}
	return nil
}

// SubmitAndWait clicks a button and waits for the resulting navigation.
func (t *Tab) SubmitAndWait(ctx context.Context, selector string) error {
	navCtx, cancel := context.WithTimeout(ctx, t.manager.cfg.NavTimeout)
	defer cancel()

	el, err := t.Page.Context(navCtx).Element(selector)
	if err != nil {
		return fmt.Errorf("browser: element %s: %w", selector, err)
	}

	wait := t.Page.Context(navCtx).WaitNavigation(proto.PageLifecycleEventNameLoad)
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", selector, err)
	}
	wait()
	return nil
}

// InjectToken writes a solved challenge token into the page's response
// field and fires the events the widget listens for. The selectors cover
// the common challenge widgets; which one is present depends on the site.
func (t *Tab) InjectToken(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("browser: empty token")
	}

	js := `(token) => {
		const selectors = [
			'textarea[name="h-captcha-response"]',
			'textarea[name="g-recaptcha-response"]',
			'textarea[id^="g-recaptcha-response"]',
			'input[name="h-captcha-response"]',
			'input[name="g-recaptcha-response"]',
		];
		for (const s of selectors) {
			const el = document.querySelector(s);
			if (!el) continue;
			el.value = token;
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
			return s;
		}
		return '';
	}`

	res, err := t.Page.Context(ctx).Eval(js, token)
	if err != nil {
		return fmt.Errorf("browser: inject token: %w", err)
	}
	if res.Value.Str() == "" {
		return fmt.Errorf("browser: no challenge response field found")
	}
	return nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
