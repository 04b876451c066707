package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

const acmePage = `<html><body>
<div id="entity-detail">
  <table class="fields">
    <tr><th>Business Name</th><td>  Acme   LLC </td></tr>
    <tr><th>Business Address</th><td>123 Main St<br>Suite 400<br>Springfield, TX 75001</td></tr>
    <tr><th>Status</th><td>In existence</td></tr>
  </table>
  <table class="managers">
    <tr><th>Name</th><th>Address</th><th>Role</th></tr>
    <tr><td>Jane Roe</td><td>1 Elm St<br>Springfield, TX</td><td>Manager</td></tr>
    <tr><td>John Doe</td><td>2 Oak Ave</td><td>Member</td></tr>
  </table>
</div>
</body></html>`

func TestNormalizeFieldTables(t *testing.T) {
	// WHAT: The current layout parses into the canonical record with
	// whitespace collapsed, address lines joined, and manager order kept.
	rec, err := Normalize([]byte(acmePage))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Name != "Acme LLC" {
		t.Errorf("name: got %q", rec.Name)
	}
	if rec.Address != "123 Main St, Suite 400, Springfield, TX 75001" {
		t.Errorf("address: got %q", rec.Address)
	}
	if rec.Status != "In existence" {
		t.Errorf("status: got %q", rec.Status)
	}
	if len(rec.Managers) != 2 {
		t.Fatalf("managers: got %d, want 2", len(rec.Managers))
	}
	// Source order is registration order; it must be preserved.
	if rec.Managers[0].Name != "Jane Roe" || rec.Managers[1].Name != "John Doe" {
		t.Errorf("manager order: got %q, %q", rec.Managers[0].Name, rec.Managers[1].Name)
	}
	if rec.Managers[0].Role != "Manager" || rec.Managers[0].Address != "1 Elm St, Springfield, TX" {
		t.Errorf("manager fields: %+v", rec.Managers[0])
	}
}

func TestNormalizeZeroManagers(t *testing.T) {
	// WHAT: Absence of managers is valid, not an error; the list is empty,
	// never nil.
	page := `<div id="entity-detail">
		<table class="fields"><tr><th>Business Name</th><td>Solo Corp</td></tr></table>
	</div>`
	rec, err := Normalize([]byte(page))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Managers == nil || len(rec.Managers) != 0 {
		t.Errorf("managers: got %#v, want empty non-nil slice", rec.Managers)
	}
}

func TestNormalizeLegacyLayout(t *testing.T) {
	page := `<table id="corp_info">
		<tr><td class="label">Entity Name:</td><td class="value">Oldstyle Inc</td></tr>
		<tr><td class="label">Principal Address:</td><td class="value">9 Pine Rd<br>Austin, TX</td></tr>
		<tr><td class="label">Entity Status:</td><td class="value">Forfeited</td></tr>
	</table>
	<table id="corp_mgrs">
		<tr><td>Ann Lee</td><td>9 Pine Rd</td><td>President</td></tr>
	</table>`
	rec, err := Normalize([]byte(page))
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if rec.Name != "Oldstyle Inc" || rec.Status != "Forfeited" {
		t.Errorf("record: %+v", rec)
	}
	if rec.Address != "9 Pine Rd, Austin, TX" {
		t.Errorf("address: got %q", rec.Address)
	}
	if len(rec.Managers) != 1 || rec.Managers[0].Role != "President" {
		t.Errorf("managers: %+v", rec.Managers)
	}
}

func TestNormalizeMissingName(t *testing.T) {
	// WHAT: A structurally recognised page without the mandatory name field
	// is a parse failure, not a silent empty record.
	page := `<div id="entity-detail">
		<table class="fields"><tr><th>Status</th><td>Active</td></tr></table>
	</div>`
	_, err := Normalize([]byte(page))
	if !errors.Is(err, ErrMissingName) {
		t.Fatalf("got %v, want ErrMissingName", err)
	}
}

func TestNormalizeUnknownLayout(t *testing.T) {
	// WHAT: Pages matching no template fail loudly, the site-drift signal.
	_, err := Normalize([]byte(`<html><body><div class="totally-new">Acme</div></body></html>`))
	if !errors.Is(err, ErrLayoutUnknown) {
		t.Fatalf("got %v, want ErrLayoutUnknown", err)
	}
}

func TestNormalizeDeterministic(t *testing.T) {
	// WHAT: Re-running on identical raw content yields byte-identical output.
	a, err := Normalize([]byte(acmePage))
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	b, err := Normalize([]byte(acmePage))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("records differ:\n%+v\n%+v", a, b)
	}
	ja, _ := json.Marshal(a)
	jb, _ := json.Marshal(b)
	if !bytes.Equal(ja, jb) {
		t.Fatalf("serialised records differ:\n%s\n%s", ja, jb)
	}
}
