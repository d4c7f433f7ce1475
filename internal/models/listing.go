package models

// Listing is one certified installer entry from the directory.
type Listing struct {
	Category       string   `json:"category"`
	Region         string   `json:"region"`
	Name           string   `json:"name"`
	Street         string   `json:"street,omitempty"`
	ZipCode        string   `json:"zip_code,omitempty"`
	City           string   `json:"city,omitempty"`
	Phone          string   `json:"phone,omitempty"`
	URL            string   `json:"url"`
	Qualifications []string `json:"qualifications,omitempty"`
	Skills         string   `json:"skills,omitempty"`
}

// Address joins the postal parts into a single display string.
func (l Listing) Address() string {
	parts := make([]string, 0, 3)
	if l.Street != "" {
		parts = append(parts, l.Street)
	}
	zipCity := l.ZipCode
	if l.City != "" {
		if zipCity != "" {
			zipCity += " "
		}
		zipCity += l.City
	}
	if zipCity != "" {
		parts = append(parts, zipCity)
	}
	out := ""
	for i, part := range parts {
		if i > 0 {
			out += ", "
		}
		out += part
	}
	return out
}
