package seen

import (
	"path/filepath"
	"testing"

	"github.com/jduverne/enrcli/internal/models"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "listings_seen.json")

	listings := []models.Listing{
		{Category: "installateurs-photovoltaique", Region: "75", Name: "Sol Énergie", ZipCode: "75011", City: "Paris", URL: "https://www.qualit-enr.org/annuaire/entreprise/sol-energie-75/"},
	}
	if err := WriteListings(path, listings); err != nil {
		t.Fatalf("WriteListings() error = %v", err)
	}

	got, err := ReadListings(path)
	if err != nil {
		t.Fatalf("ReadListings() error = %v", err)
	}
	if len(got) != 1 || got[0].Name != "Sol Énergie" {
		t.Fatalf("unexpected listings: %#v", got)
	}
}

func TestReadListingsAllowMissing(t *testing.T) {
	dir := t.TempDir()

	got, err := ReadListingsAllowMissing(filepath.Join(dir, "missing.json"))
	if err != nil {
		t.Fatalf("ReadListingsAllowMissing() error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("len(got) = %d, want 0", len(got))
	}
}

func TestReadListingsRequiresPath(t *testing.T) {
	if _, err := ReadListings("  "); err == nil {
		t.Fatalf("ReadListings() error = nil, want error")
	}
	if err := WriteListings("", nil); err == nil {
		t.Fatalf("WriteListings() error = nil, want error")
	}
}
