// Package normalize converts raw registry result pages into canonical
// entity records.
//
// Normalize is a pure function of content: no I/O, no shared state, and
// byte-identical output for identical input. Pages that match no known
// template fail loudly with ErrLayoutUnknown rather than producing a
// guessed, possibly corrupt record.
package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ErrMissingName is returned when the mandatory business name field is
// absent. A record without a name is worse than a visible failure.
var ErrMissingName = errors.New("normalize: business name missing")

// ErrLayoutUnknown is returned when the page structure matches no known
// results template. This is the site-drift signal: a human updates the
// templates, the parser never guesses.
var ErrLayoutUnknown = errors.New("normalize: page layout not recognised")

// Manager is one officer/manager row, in source order.
type Manager struct {
	Name    string
	Address string
	Role    string
}

// EntityRecord is the canonical output for one business identifier.
type EntityRecord struct {
	Name     string
	Address  string
	Status   string
	Managers []Manager
}

// template attempts to extract a record from a parsed document. ok reports
// whether the document's structure matched; a matching template with missing
// mandatory fields is a parse failure, not a template miss.
type template func(doc *goquery.Document) (rec *EntityRecord, ok bool)

// templates is ordered newest layout first; the first structural match wins.
var templates = []template{
	parseFieldTables,
	parseCorpInfo,
}

// Normalize parses a results page into an EntityRecord.
func Normalize(html []byte) (*EntityRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("normalize: parse html: %w", err)
	}

	for _, tmpl := range templates {
		rec, ok := tmpl(doc)
		if !ok {
			continue
		}
		if rec.Name == "" {
			return nil, ErrMissingName
		}
		return rec, nil
	}
	return nil, ErrLayoutUnknown
}

// parseFieldTables handles the current layout: a detail block containing a
// label/value field table and an optional managers table.
//
//	<div id="entity-detail">
//	  <table class="fields"><tr><th>Business Name</th><td>…</td></tr>…</table>
//	  <table class="managers"><tr><th>Name</th>…</tr><tr><td>…</td>…</tr></table>
//	</div>
func parseFieldTables(doc *goquery.Document) (*EntityRecord, bool) {
	detail := doc.Find("#entity-detail")
	if detail.Length() == 0 {
		return nil, false
	}
	fields := detail.Find("table.fields tr")
	if fields.Length() == 0 {
		return nil, false
	}

	rec := &EntityRecord{Managers: []Manager{}}
	fields.Each(func(_ int, row *goquery.Selection) {
		label := canonicalLabel(row.Find("th").First().Text())
		value := row.Find("td").First()
		switch label {
		case "business name":
			rec.Name = collapseSpace(value.Text())
		case "business address":
			rec.Address = joinLines(value)
		case "status":
			rec.Status = collapseSpace(value.Text())
		}
	})

	detail.Find("table.managers tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return // header row
		}
		rec.Managers = append(rec.Managers, Manager{
			Name:    collapseSpace(cells.Eq(0).Text()),
			Address: joinLines(cells.Eq(1)),
			Role:    collapseSpace(cells.Eq(2).Text()),
		})
	})

	return rec, true
}

// parseCorpInfo handles the legacy layout: a corp_info table with
// label/value cell pairs and a corp_mgrs table for officers.
//
//	<table id="corp_info">
//	  <tr><td class="label">Business Name:</td><td class="value">…</td></tr>…
//	</table>
//	<table id="corp_mgrs"><tr><td>…</td><td>…</td><td>…</td></tr></table>
func parseCorpInfo(doc *goquery.Document) (*EntityRecord, bool) {
	info := doc.Find("table#corp_info")
	if info.Length() == 0 {
		return nil, false
	}

	rec := &EntityRecord{Managers: []Manager{}}
	info.Find("tr").Each(func(_ int, row *goquery.Selection) {
		label := canonicalLabel(row.Find("td.label").First().Text())
		value := row.Find("td.value").First()
		switch label {
		case "business name", "entity name":
			rec.Name = collapseSpace(value.Text())
		case "business address", "principal address":
			rec.Address = joinLines(value)
		case "status", "entity status":
			rec.Status = collapseSpace(value.Text())
		}
	})

	doc.Find("table#corp_mgrs tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}
		rec.Managers = append(rec.Managers, Manager{
			Name:    collapseSpace(cells.Eq(0).Text()),
			Address: joinLines(cells.Eq(1)),
			Role:    collapseSpace(cells.Eq(2).Text()),
		})
	})

	return rec, true
}

// canonicalLabel lowercases a field label and strips the trailing colon.
func canonicalLabel(s string) string {
	return strings.TrimSuffix(collapseSpace(strings.ToLower(s)), ":")
}

// collapseSpace trims and collapses all runs of whitespace to single spaces.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// joinLines renders a cell that may contain <br>-separated address lines as
// one deterministic comma-joined string.
func joinLines(sel *goquery.Selection) string {
	// Turn <br> into explicit newlines so Text() preserves line structure.
	sel.Find("br").ReplaceWithHtml("\n")
	var lines []string
	for _, line := range strings.Split(sel.Text(), "\n") {
		if line = collapseSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, ", ")
}
