package seen

import (
	"strings"

	"github.com/jduverne/enrcli/internal/models"
)

const keySeparator = "::"

// DiffStats captures stats for A-B unseen filtering.
type DiffStats struct {
	TotalNew    int
	TotalSeen   int
	InvalidNew  int
	InvalidSeen int
	Unseen      int
}

// InvalidSkipped returns the total invalid records skipped during comparison.
func (s DiffStats) InvalidSkipped() int {
	return s.InvalidNew + s.InvalidSeen
}

// MergeStats captures stats for seen history updates.
type MergeStats struct {
	TotalSeen    int
	TotalInput   int
	InvalidSeen  int
	InvalidInput int
	Added        int
	TotalOut     int
}

// InvalidSkipped returns the total invalid records skipped during merge.
func (s MergeStats) InvalidSkipped() int {
	return s.InvalidSeen + s.InvalidInput
}

// Normalize applies the v1 key normalization.
func Normalize(value string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(value)))
	return strings.Join(fields, " ")
}

// Key builds the normalized name+zip key for a listing. The directory has
// no stable listing IDs and company URL slugs change on renames, so
// name+zip is the most durable identity available.
func Key(listing models.Listing) (string, bool) {
	name := Normalize(listing.Name)
	zip := Normalize(listing.ZipCode)
	if name == "" || zip == "" {
		return "", false
	}
	return name + keySeparator + zip, true
}

// Diff returns unseen listings from newListings using existing history keys.
func Diff(newListings []models.Listing, seenListings []models.Listing) ([]models.Listing, DiffStats) {
	stats := DiffStats{
		TotalNew:  len(newListings),
		TotalSeen: len(seenListings),
	}

	seenKeys := make(map[string]struct{}, len(seenListings))
	for _, listing := range seenListings {
		key, ok := Key(listing)
		if !ok {
			stats.InvalidSeen++
			continue
		}
		if _, exists := seenKeys[key]; exists {
			continue
		}
		seenKeys[key] = struct{}{}
	}

	newKeys := make(map[string]struct{}, len(newListings))
	unseen := make([]models.Listing, 0, len(newListings))
	for _, listing := range newListings {
		key, ok := Key(listing)
		if !ok {
			stats.InvalidNew++
			continue
		}
		if _, exists := newKeys[key]; exists {
			continue
		}
		newKeys[key] = struct{}{}
		if _, exists := seenKeys[key]; exists {
			continue
		}
		unseen = append(unseen, listing)
	}

	stats.Unseen = len(unseen)
	return unseen, stats
}

// Merge appends unique new listings into the seen history.
// Existing seen entries win collisions.
func Merge(existingSeen []models.Listing, inputListings []models.Listing) ([]models.Listing, MergeStats) {
	stats := MergeStats{
		TotalSeen:  len(existingSeen),
		TotalInput: len(inputListings),
	}

	keys := make(map[string]struct{}, len(existingSeen)+len(inputListings))
	out := make([]models.Listing, 0, len(existingSeen)+len(inputListings))

	for _, listing := range existingSeen {
		key, ok := Key(listing)
		if !ok {
			stats.InvalidSeen++
			out = append(out, listing)
			continue
		}
		if _, exists := keys[key]; exists {
			continue
		}
		keys[key] = struct{}{}
		out = append(out, listing)
	}

	for _, listing := range inputListings {
		key, ok := Key(listing)
		if !ok {
			stats.InvalidInput++
			continue
		}
		if _, exists := keys[key]; exists {
			continue
		}
		keys[key] = struct{}{}
		out = append(out, listing)
		stats.Added++
	}

	stats.TotalOut = len(out)
	return out, stats
}
