package session

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		html string
		want Kind
	}{
		{
			"results current layout",
			`<div id="entity-detail"><table class="fields"></table></div>`,
			KindResults,
		},
		{
			"results legacy layout",
			`<table id="corp_info"><tr><td class="label">Entity Name:</td></tr></table>`,
			KindResults,
		},
		{
			"not found",
			`<html><body><p>No records found for your search.</p></body></html>`,
			KindNotFound,
		},
		{
			"throttle",
			`<html><body><h1>Too many requests</h1></body></html>`,
			KindThrottle,
		},
		{
			"challenge",
			`<div class="h-captcha" data-sitekey="abc-123"></div>`,
			KindChallenge,
		},
		{
			// Challenge markup wins even when result anchors are present:
			// the widget gates the content behind it.
			"challenge over results",
			`<div data-sitekey="k"></div><div id="entity-detail"></div>`,
			KindChallenge,
		},
		{
			"unknown",
			`<html><body><div class="redesigned">hello</div></body></html>`,
			KindUnknown,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify([]byte(tc.html)); got != tc.want {
				t.Errorf("got %s, want %s", got, tc.want)
			}
		})
	}
}

func TestExtractChallenge(t *testing.T) {
	html := `<div class="g-recaptcha" data-sitekey="site-key-1"></div>`
	ch, err := ExtractChallenge([]byte(html), "https://registry.example/search")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if ch.SiteKey != "site-key-1" {
		t.Errorf("sitekey: got %q", ch.SiteKey)
	}
	if ch.PageURL != "https://registry.example/search" {
		t.Errorf("page url: got %q", ch.PageURL)
	}
	if ch.FoundAt.IsZero() {
		t.Error("discovery timestamp not set")
	}
}

func TestExtractChallengeMissingKey(t *testing.T) {
	_, err := ExtractChallenge([]byte(`<div data-sitekey=""></div>`), "u")
	if err == nil {
		t.Fatal("expected error for empty sitekey")
	}
}
