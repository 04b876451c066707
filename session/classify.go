package session

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lutra-labs/sospull/solver"
)

// Kind classifies a raw response page.
type Kind int

const (
	KindUnknown Kind = iota
	KindResults
	KindNotFound
	KindChallenge
	KindThrottle
)

func (k Kind) String() string {
	switch k {
	case KindResults:
		return "results"
	case KindNotFound:
		return "not_found"
	case KindChallenge:
		return "challenge"
	case KindThrottle:
		return "throttle"
	}
	return "unknown"
}

// notFoundMarkers are the phrases the registry uses on its empty-result page.
var notFoundMarkers = []string{
	"no records found",
	"no entity found",
	"no matching filings",
}

// throttleMarkers are the registry's explicit throttling signals.
var throttleMarkers = []string{
	"too many requests",
	"access temporarily limited",
	"request limit exceeded",
}

// Classify inspects a page and decides which machine transition it drives.
// Precedence: challenge markup beats everything (the site gates even its
// error pages behind the widget), then explicit not-found and throttle
// signals, then a recognised results layout.
func Classify(html []byte) Kind {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return KindUnknown
	}

	if doc.Find("[data-sitekey]").Length() > 0 {
		return KindChallenge
	}

	text := strings.ToLower(doc.Find("body").Text())
	for _, m := range notFoundMarkers {
		if strings.Contains(text, m) {
			return KindNotFound
		}
	}
	for _, m := range throttleMarkers {
		if strings.Contains(text, m) {
			return KindThrottle
		}
	}

	// Results anchors mirror the templates in the normalize package; a new
	// layout must be added in both places.
	if doc.Find("#entity-detail, table#corp_info").Length() > 0 {
		return KindResults
	}

	return KindUnknown
}

// ExtractChallenge pulls the solve material out of a challenge page.
func ExtractChallenge(html []byte, pageURL string) (*solver.Challenge, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("session: parse challenge page: %w", err)
	}

	siteKey, ok := doc.Find("[data-sitekey]").First().Attr("data-sitekey")
	if !ok || siteKey == "" {
		return nil, fmt.Errorf("session: challenge markup present but sitekey missing")
	}

	return &solver.Challenge{
		SiteKey: siteKey,
		PageURL: pageURL,
		FoundAt: time.Now(),
	}, nil
}
