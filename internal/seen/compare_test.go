package seen

import (
	"testing"

	"github.com/jduverne/enrcli/internal/models"
)

func TestKey(t *testing.T) {
	listing := models.Listing{Name: "  Sol  Énergie ", ZipCode: "75011"}
	key, ok := Key(listing)
	if !ok {
		t.Fatalf("Key() ok = false, want true")
	}
	if key != "sol énergie::75011" {
		t.Fatalf("Key() = %q", key)
	}

	if _, ok := Key(models.Listing{Name: "Sol Énergie"}); ok {
		t.Fatalf("Key() without zip should be invalid")
	}
	if _, ok := Key(models.Listing{ZipCode: "75011"}); ok {
		t.Fatalf("Key() without name should be invalid")
	}
}

func TestDiff(t *testing.T) {
	seenListings := []models.Listing{
		{Name: "Sol Énergie", ZipCode: "75011"},
		{Name: "invalid"},
	}
	newListings := []models.Listing{
		{Name: "SOL ÉNERGIE", ZipCode: "75011"},
		{Name: "Watt Home", ZipCode: "75003"},
		{Name: "Watt Home", ZipCode: "75003"},
		{ZipCode: "75020"},
	}

	unseen, stats := Diff(newListings, seenListings)
	if len(unseen) != 1 {
		t.Fatalf("len(unseen) = %d, want 1", len(unseen))
	}
	if unseen[0].Name != "Watt Home" {
		t.Fatalf("unexpected unseen listing: %+v", unseen[0])
	}
	if stats.InvalidNew != 1 || stats.InvalidSeen != 1 {
		t.Fatalf("unexpected invalid counts: %+v", stats)
	}
	if stats.Unseen != 1 {
		t.Fatalf("stats.Unseen = %d, want 1", stats.Unseen)
	}
}

func TestMerge(t *testing.T) {
	existing := []models.Listing{
		{Name: "Sol Énergie", ZipCode: "75011", City: "Paris"},
	}
	input := []models.Listing{
		{Name: "sol énergie", ZipCode: "75011", City: "PARIS 11"},
		{Name: "Watt Home", ZipCode: "75003"},
	}

	merged, stats := Merge(existing, input)
	if len(merged) != 2 {
		t.Fatalf("len(merged) = %d, want 2", len(merged))
	}
	// Existing entries win collisions.
	if merged[0].City != "Paris" {
		t.Fatalf("existing entry should win: %+v", merged[0])
	}
	if stats.Added != 1 || stats.TotalOut != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
