package scraper

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

const resultsFixture = `
<!doctype html>
<html>
<body>
<div id="company-search-results">1-20/3 résultat(s)</div>
<div class="results-list">
  <a class="results-item" href="/annuaire/entreprise/sol-energie-75/">
    <h3>Sol Énergie</h3>
    <div>12 rue de la Roquette</div>
    <div>75011 Paris</div>
    <span>QualiPV</span>
  </a>
  <a class="results-item" href="/annuaire/entreprise/toit-soleil/">
    <h3>Toit &amp; Soleil</h3>
    <div>8 avenue Gambetta</div>
    <div>75020 Paris</div>
    <span>QualiPV</span>
    <span>QualiPAC</span>
  </a>
  <a class="results-item" href="/annuaire/entreprise/watt-home/">
    <h3>Watt Home</h3>
    <div>3 boulevard Voltaire</div>
    <div>75003 Paris</div>
  </a>
</div>
</body>
</html>`

func TestParseResultsPage_ThreeListings(t *testing.T) {
	doc := mustDoc(t, resultsFixture)

	listings, total, err := parseResultsPage(doc, defaultBaseURL, CategoryPhotovoltaique, "75")
	if err != nil {
		t.Fatalf("parseResultsPage() error = %v", err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}
	if len(listings) != 3 {
		t.Fatalf("len(listings) = %d, want 3", len(listings))
	}

	wantNames := []string{"Sol Énergie", "Toit & Soleil", "Watt Home"}
	for i, listing := range listings {
		if listing.Name != wantNames[i] {
			t.Fatalf("listings[%d].Name = %q, want %q", i, listing.Name, wantNames[i])
		}
		if listing.Street == "" || listing.ZipCode == "" || listing.City == "" {
			t.Fatalf("listings[%d] missing address fields: %+v", i, listing)
		}
		if listing.Category != CategoryPhotovoltaique || listing.Region != "75" {
			t.Fatalf("listings[%d] wrong tags: %+v", i, listing)
		}
		if !strings.HasPrefix(listing.URL, "https://www.qualit-enr.org/annuaire/entreprise/") {
			t.Fatalf("listings[%d].URL = %q", i, listing.URL)
		}
	}

	if listings[0].ZipCode != "75011" || listings[0].City != "Paris" {
		t.Fatalf("unexpected first address: %+v", listings[0])
	}
	if got := listings[1].Qualifications; !reflect.DeepEqual(got, []string{"QualiPV", "QualiPAC"}) {
		t.Fatalf("unexpected qualifications: %#v", got)
	}
}

func TestParseResultsPage_Deterministic(t *testing.T) {
	first, _, err := parseResultsPage(mustDoc(t, resultsFixture), defaultBaseURL, CategoryPhotovoltaique, "75")
	if err != nil {
		t.Fatalf("parseResultsPage() error = %v", err)
	}
	second, _, err := parseResultsPage(mustDoc(t, resultsFixture), defaultBaseURL, CategoryPhotovoltaique, "75")
	if err != nil {
		t.Fatalf("parseResultsPage() (2nd) error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("parsing is not deterministic:\n%#v\n%#v", first, second)
	}
}

func TestParseResultsPage_MissingContainer(t *testing.T) {
	doc := mustDoc(t, `<html><body><div class="results-list"></div></body></html>`)

	_, _, err := parseResultsPage(doc, defaultBaseURL, CategoryPhotovoltaique, "75")
	if err == nil {
		t.Fatalf("parseResultsPage() error = nil, want parse error")
	}
	if !errors.Is(err, ErrParse) {
		t.Fatalf("parseResultsPage() error = %v, want ErrParse", err)
	}
}

func TestParseResultsPage_NoMatches(t *testing.T) {
	doc := mustDoc(t, `
<html><body>
<div id="company-search-results">0/0 résultat(s)</div>
<div class="results-list"></div>
</body></html>`)

	listings, total, err := parseResultsPage(doc, defaultBaseURL, CategoryPompeAChaleur, "99")
	if err != nil {
		t.Fatalf("parseResultsPage() error = %v", err)
	}
	if len(listings) != 0 {
		t.Fatalf("len(listings) = %d, want 0", len(listings))
	}
	if total != 0 {
		t.Fatalf("total = %d, want 0", total)
	}
}

func TestParseResultsCount(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"1-20/123 résultat(s)", 123},
		{"1-20/1 234 résultat(s)", 1234},
		{"0/0 résultat(s)", 0},
		{"aucun résultat", -1},
		{"1-20/abc résultat(s)", -1},
	}

	for _, tc := range cases {
		got := parseResultsCount(tc.text)
		if got != tc.want {
			t.Fatalf("parseResultsCount(%q) = %d, want %d", tc.text, got, tc.want)
		}
	}
}

func TestPageFromOffset(t *testing.T) {
	cases := []struct {
		offset int
		want   int
	}{
		{0, 1},
		{19, 1},
		{20, 2},
		{45, 3},
	}

	for _, tc := range cases {
		if got := pageFromOffset(tc.offset); got != tc.want {
			t.Fatalf("pageFromOffset(%d) = %d, want %d", tc.offset, got, tc.want)
		}
	}
}

func TestBuildPageURL(t *testing.T) {
	a := New(nil)
	got := a.buildPageURL(CategoryPhotovoltaique, "75", 2)
	want := "https://www.qualit-enr.org/annuaire/page/2/?type=installateurs-photovoltaique&ville=75&city&lat&lng&loc"
	if got != want {
		t.Fatalf("buildPageURL() = %q, want %q", got, want)
	}
}

func TestParseCompanyPage(t *testing.T) {
	doc := mustDoc(t, `
<html><body>
<h1>Sol Énergie</h1>
<div class="fs-lg lh-md">12 rue de la Roquette<br>75011 Paris</div>
<h2>Nos compétences</h2>
<div class="cms">Installation photovoltaïque
 Maintenance</div>
<div class="phone-container d-none"><a href="tel:+33123456789">01 23 45 67 89</a></div>
</body></html>`)

	detail, err := parseCompanyPage(doc)
	if err != nil {
		t.Fatalf("parseCompanyPage() error = %v", err)
	}
	if detail.Name != "Sol Énergie" {
		t.Fatalf("unexpected name: %q", detail.Name)
	}
	if detail.Street != "12 rue de la Roquette" {
		t.Fatalf("unexpected street: %q", detail.Street)
	}
	if detail.ZipCode != "75011" || detail.City != "Paris" {
		t.Fatalf("unexpected zip/city: %q %q", detail.ZipCode, detail.City)
	}
	if !strings.Contains(detail.Skills, "Installation photovoltaïque") {
		t.Fatalf("unexpected skills: %q", detail.Skills)
	}
	if detail.Phone != "01 23 45 67 89" {
		t.Fatalf("unexpected phone: %q", detail.Phone)
	}
}

func TestParseCompanyPage_MissingHeading(t *testing.T) {
	doc := mustDoc(t, `<html><body><div class="fs-lg lh-md">12 rue X<br>75011 Paris</div></body></html>`)

	_, err := parseCompanyPage(doc)
	if !errors.Is(err, ErrParse) {
		t.Fatalf("parseCompanyPage() error = %v, want ErrParse", err)
	}
}

func TestParseResultCard_MultiLineStreet(t *testing.T) {
	doc := mustDoc(t, `
<a class="results-item" href="https://www.qualit-enr.org/annuaire/entreprise/chauffage-plus/">
  <h3>Chauffage Plus</h3>
  <span>2,4 km</span>
  <div>ZA des Landes</div>
  <div>72000 Le Mans</div>
  <span>QualiPAC</span>
</a>`)

	card := doc.Find("a.results-item").First()
	listing := parseResultCard(card, defaultBaseURL, CategoryPompeAChaleur, "72")

	if listing.Name != "Chauffage Plus" {
		t.Fatalf("unexpected name: %q", listing.Name)
	}
	if listing.Street != "ZA des Landes" {
		t.Fatalf("distance badge should not become the street: %q", listing.Street)
	}
	if listing.ZipCode != "72000" || listing.City != "Le Mans" {
		t.Fatalf("unexpected zip/city: %q %q", listing.ZipCode, listing.City)
	}
	if !reflect.DeepEqual(listing.Qualifications, []string{"QualiPAC"}) {
		t.Fatalf("unexpected qualifications: %#v", listing.Qualifications)
	}
}
