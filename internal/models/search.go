package models

// SearchParams captures the normalized directory search inputs.
type SearchParams struct {
	Category string
	Region   string
	Limit    int
	Offset   int
	MaxPages int
	Details  bool
}
