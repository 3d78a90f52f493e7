package search

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct{ in, want string }{
		{"(555) 123-4567", "+1 (555) 123-4567"},
		{"555.123.4567", "+1 (555) 123-4567"},
		{"5551234567", "+1 (555) 123-4567"},
		{"555-1234", "555-1234"},
		{"1-555-123-4567", "1-555-123-4567"},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParsePhonesDedupesInOrder(t *testing.T) {
	text := "Call (555) 123-4567 or 212.555.0199, also 555-123-4567. Zip 90210."
	want := []string{"+1 (555) 123-4567", "+1 (212) 555-0199"}
	if got := ParsePhones(text); !reflect.DeepEqual(got, want) {
		t.Errorf("ParsePhones() = %v, want %v", got, want)
	}
	if got := ParsePhones(""); len(got) != 0 {
		t.Errorf("ParsePhones(\"\") = %v", got)
	}
}

func TestBuildURL(t *testing.T) {
	profiles := DefaultProfiles()
	tps, fps := profiles[0], profiles[1]
	addr := "123 Main St, Springfield, IL 62701"

	if got, want := tps.BuildURL(addr), "https://www.truepeoplesearch.com/results?streetaddress=123+Main+St%2C+Springfield%2C+IL+62701"; got != want {
		t.Errorf("TPS URL = %s, want %s", got, want)
	}
	if got, want := fps.BuildURL(addr), "https://www.fastpeoplesearch.com/address/123-main-st-springfield-il-62701"; got != want {
		t.Errorf("FPS URL = %s, want %s", got, want)
	}
}

func TestAddressKey(t *testing.T) {
	if a, b := AddressKey("  123 Main  St, Springfield "), AddressKey("123 MAIN st, springfield"); a != b {
		t.Errorf("AddressKey mismatch: %q vs %q", a, b)
	}
	if got := NormalizeAddress("\t1  Elm\nSt "); got != "1 Elm St" {
		t.Errorf("NormalizeAddress() = %q", got)
	}
}

const tpsPage = `<html><body>
<div class="card card-summary">
  <a href="/find/person/details?id=1"> John Doe </a>
  <div class="content-value address-line">Springfield, IL</div>
  <div>Phones: <span>(555) 123-4567</span><span>555.987.6543</span></div>
  <script>var x = "(999) 999-9999";</script>
</div>
<div class="card">
  <p>Advertisement (800) 555-0100</p>
</div>
<div class="card">
  <a href="/details?id=2">Jane Roe</a>
</div>
</body></html>`

func TestParseResultsTrueStyle(t *testing.T) {
	got, err := ParseResults(DefaultProfiles()[0], tpsPage)
	if err != nil {
		t.Fatalf("ParseResults() error = %v", err)
	}
	want := []Match{
		{Name: "John Doe", Phones: []string{"+1 (555) 123-4567", "+1 (555) 987-6543"}, CityState: "Springfield, IL", Source: "TruePeopleSearch"},
		{Name: "Jane Roe", Phones: []string{}, CityState: "", Source: "TruePeopleSearch"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ParseResults() =\n%#v\nwant\n%#v", got, want)
	}
}

func TestParseResultsFallsBackToResultCards(t *testing.T) {
	page := `<div class="result"><a href="/person/abc">Ann Smith</a><div class="address">Austin, TX</div> 512-555-0142</div>`
	got, err := ParseResults(DefaultProfiles()[1], page)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "Ann Smith" || got[0].CityState != "Austin, TX" || got[0].Source != "FastPeopleSearch" {
		t.Fatalf("ParseResults() = %+v", got)
	}
	if !reflect.DeepEqual(got[0].Phones, []string{"+1 (512) 555-0142"}) {
		t.Errorf("phones = %v", got[0].Phones)
	}
}

func TestParseResultsNoCards(t *testing.T) {
	got, err := ParseResults(DefaultProfiles()[0], "<html><body>No records</body></html>")
	if err != nil || got != nil {
		t.Errorf("ParseResults() = %v, %v", got, err)
	}
}

func TestLoadProfilesOverridesAndAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	yml := `sites:
  - key: fastpeoplesearch
    name: FPS Mirror
    url_template: "https://fps.example/address/{address}"
    slug_style: slug
    name_href: /person
  - key: peoplefinder
    url_template: "https://pf.example/search?q={address}"
    name_href: /profile
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("LoadProfiles() error = %v", err)
	}
	if len(profiles) != 3 {
		t.Fatalf("got %d profiles", len(profiles))
	}
	if profiles[1].Name != "FPS Mirror" || profiles[1].BuildURL("1 A St") != "https://fps.example/address/1-a-st" {
		t.Errorf("override not applied: %+v", profiles[1])
	}
	pf := profiles[2]
	if pf.Name != "peoplefinder" || pf.SlugStyle != SlugQuery || len(pf.CardSelectors) != 2 {
		t.Errorf("defaults not filled: %+v", pf)
	}

	sel, err := Select(profiles, []string{"peoplefinder", "TruePeopleSearch"})
	if err != nil || len(sel) != 2 || sel[0].Key != "peoplefinder" || sel[1].Key != "truepeoplesearch" {
		t.Errorf("Select() = %v, %v", sel, err)
	}
	if _, err := Select(profiles, []string{"nope"}); !errors.Is(err, ErrUnknownSite) {
		t.Errorf("Select(unknown) error = %v", err)
	}
}

func TestLoadProfilesRejectsBadTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	os.WriteFile(path, []byte("sites:\n  - key: x\n    url_template: https://x.example/\n"), 0o644)
	if _, err := LoadProfiles(path); err == nil {
		t.Error("expected error for template without {address}")
	}
	if p, err := LoadProfiles(""); err != nil || len(p) != 2 {
		t.Errorf("LoadProfiles(\"\") = %d, %v", len(p), err)
	}
}

func TestLoadProfilesRequiresNameHref(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.yaml")
	yml := "sites:\n  - key: peoplefinder\n    url_template: \"https://pf.example/search?q={address}\"\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadProfiles(path)
	if err == nil || !strings.Contains(err.Error(), "name_href") {
		t.Fatalf("LoadProfiles() error = %v, want name_href error", err)
	}
}
