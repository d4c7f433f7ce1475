package scraper

import "errors"

// ErrParse signals that the directory markup no longer matches the
// selectors this scraper was written against.
var ErrParse = errors.New("unexpected page structure")
