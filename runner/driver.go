package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lutra-labs/sospull/browser"
	"github.com/lutra-labs/sospull/session"
	"github.com/lutra-labs/sospull/solver"
)

// siteDriver implements session.Driver over a real browser tab. One driver
// per run: the tab carries the session cookies the registry hands out on
// the first search, and the pending form state between challenge and token
// submission.
type siteDriver struct {
	mgr *browser.Manager
	tab *browser.Tab
	cfg RegistryConfig
	log *slog.Logger
}

// newSiteDriver launches Chrome and returns the driver plus its closer.
func newSiteDriver(ctx context.Context, cfg RegistryConfig, bcfg browser.Config, log *slog.Logger) (*siteDriver, func(), error) {
	mgr := browser.NewManager(bcfg)
	if _, err := mgr.Start(ctx); err != nil {
		return nil, nil, err
	}

	d := &siteDriver{mgr: mgr, cfg: cfg, log: log}
	closer := func() {
		if d.tab != nil {
			d.tab.Close()
		}
		mgr.Close()
	}
	return d, closer, nil
}

func (d *siteDriver) SubmitSearch(ctx context.Context, fileNumber string) (*session.Page, error) {
	if d.tab == nil {
		tab, err := browser.OpenTab(ctx, d.mgr, d.cfg.SearchURL)
		if err != nil {
			return nil, err
		}
		d.tab = tab
	} else {
		if err := d.tab.Navigate(ctx, d.cfg.SearchURL); err != nil {
			return nil, err
		}
	}

	if err := d.tab.Fill(ctx, d.cfg.SearchInput, fileNumber); err != nil {
		return nil, err
	}
	if err := d.tab.SubmitAndWait(ctx, d.cfg.SearchButton); err != nil {
		return nil, err
	}
	return d.currentPage(ctx)
}

func (d *siteDriver) SubmitToken(ctx context.Context, tok solver.Token) (*session.Page, error) {
	if d.tab == nil {
		return nil, fmt.Errorf("runner: no open tab for token submission")
	}
	if err := d.tab.InjectToken(ctx, tok.Value); err != nil {
		return nil, err
	}
	if err := d.tab.SubmitAndWait(ctx, d.cfg.TokenSubmit); err != nil {
		return nil, err
	}
	return d.currentPage(ctx)
}

func (d *siteDriver) Screenshot(ctx context.Context) ([]byte, error) {
	if d.tab == nil {
		return nil, fmt.Errorf("runner: no open tab to capture")
	}
	return d.tab.Screenshot(ctx)
}

func (d *siteDriver) currentPage(ctx context.Context) (*session.Page, error) {
	html, err := d.tab.HTML(ctx)
	if err != nil {
		return nil, err
	}
	url, err := d.tab.URL(ctx)
	if err != nil {
		d.log.Warn("runner: page url unavailable", "error", err)
		url = d.cfg.SearchURL
	}
	return &session.Page{HTML: html, URL: url}, nil
}
