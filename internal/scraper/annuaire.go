package scraper

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/jduverne/enrcli/internal/models"
	"github.com/jduverne/enrcli/internal/network"
)

const (
	defaultBaseURL  = "https://www.qualit-enr.org"
	pageSize        = 20
	defaultMaxPages = 50
)

// Directory category slugs recognized by the annuaire.
const (
	CategoryPhotovoltaique   = "installateurs-photovoltaique"
	CategoryPompeAChaleur    = "installateurs-pompe-a-chaleur"
	CategorySolaireThermique = "installateurs-solaire-thermique"
	CategoryBoisEnergie      = "installateurs-bois-energie"
)

// Qualification badges shown on result cards.
var qualificationBadges = []string{
	"QualiPV",
	"QualiPAC",
	"Qualisol",
	"Qualibois",
	"Qualiforage",
	"Chauffage+",
	"Ventilation+",
}

// Consent cookies so the directory serves results without the cookie wall.
var consentCookies = map[string]string{
	"axeptio_authorized_vendors": "%2Cgoogle_analytics%2CGoogleRecaptcha%2Cyoutube%2C",
	"axeptio_all_vendors":        "%2Cgoogle_analytics%2CGoogleRecaptcha%2Cyoutube%2C",
}

var (
	zipCityPattern = regexp.MustCompile(`^(\d{5})\s+(.+)$`)
	brPattern      = regexp.MustCompile(`(?i)<br\s*/?>`)
)

// Annuaire scrapes the Qualit'EnR installer directory.
type Annuaire struct {
	client   *network.Client
	baseURL  string
	maxPages int
	logger   zerolog.Logger
}

type Option func(*Annuaire)

// WithBaseURL points the scraper at a different host, used by tests.
func WithBaseURL(base string) Option {
	return func(a *Annuaire) {
		a.baseURL = strings.TrimRight(base, "/")
	}
}

func WithMaxPages(pages int) Option {
	return func(a *Annuaire) {
		if pages > 0 {
			a.maxPages = pages
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Annuaire) {
		a.logger = logger
	}
}

func New(client *network.Client, opts ...Option) *Annuaire {
	a := &Annuaire{
		client:   client,
		baseURL:  defaultBaseURL,
		maxPages: defaultMaxPages,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ScrapeRegionCategory fetches all listings for a category within a region,
// in source page order.
func (a *Annuaire) ScrapeRegionCategory(ctx context.Context, category string, region string) ([]models.Listing, error) {
	return a.Search(ctx, models.SearchParams{Category: category, Region: region})
}

func (a *Annuaire) Search(ctx context.Context, params models.SearchParams) ([]models.Listing, error) {
	var listings []models.Listing
	limit := params.Limit

	maxPages := a.maxPages
	if params.MaxPages > 0 && params.MaxPages < maxPages {
		maxPages = params.MaxPages
	}

	page := pageFromOffset(params.Offset)
	skip := 0
	if params.Offset > 0 {
		skip = params.Offset % pageSize
	}

	totalPages := maxPages
	seen := map[string]struct{}{}
	for page <= totalPages {
		if limit > 0 && len(listings) >= limit {
			break
		}

		pageURL := a.buildPageURL(params.Category, params.Region, page)
		a.logger.Debug().Str("url", pageURL).Int("page", page).Msg("fetching results page")

		doc, err := a.fetch(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("annuaire: page %d: %w", page, err)
		}

		pageListings, total, err := parseResultsPage(doc, a.baseURL, params.Category, params.Region)
		if err != nil {
			return nil, fmt.Errorf("annuaire: page %d: %w", page, err)
		}

		if page == pageFromOffset(params.Offset) && total >= 0 {
			if pages := (total + pageSize - 1) / pageSize; pages < totalPages {
				totalPages = pages
			}
			a.logger.Debug().Int("total", total).Int("pages", totalPages).Msg("resolved result count")
		}

		if len(pageListings) == 0 {
			break
		}

		added := 0
		for _, listing := range pageListings {
			if skip > 0 {
				skip--
				continue
			}
			if listing.URL == "" {
				continue
			}
			if _, ok := seen[listing.URL]; ok {
				continue
			}
			seen[listing.URL] = struct{}{}
			listings = append(listings, listing)
			added++
			if limit > 0 && len(listings) >= limit {
				break
			}
		}

		if added == 0 {
			break
		}
		page++
	}

	if params.Details {
		for i := range listings {
			if err := a.enrichListing(ctx, &listings[i]); err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				a.logger.Warn().Err(err).Str("url", listings[i].URL).Msg("company page enrichment failed")
			}
		}
	}

	return listings, nil
}

func pageFromOffset(offset int) int {
	if offset <= 0 {
		return 1
	}
	return offset/pageSize + 1
}

func (a *Annuaire) buildPageURL(category string, region string, page int) string {
	return fmt.Sprintf("%s/annuaire/page/%d/?type=%s&ville=%s&city&lat&lng&loc",
		a.baseURL, page, url.QueryEscape(category), url.QueryEscape(region))
}

func (a *Annuaire) fetch(ctx context.Context, target string) (*goquery.Document, error) {
	headers := map[string]string{
		"referer": a.baseURL + "/annuaire/",
	}
	return fetchDocument(ctx, a.client, target, headers, consentCookies)
}

// parseResultsPage extracts listings and the total result count from a
// directory page. A missing results container means the markup drifted.
func parseResultsPage(doc *goquery.Document, base string, category string, region string) ([]models.Listing, int, error) {
	container := doc.Find("#company-search-results")
	if container.Length() == 0 {
		return nil, 0, fmt.Errorf("%w: missing #company-search-results container", ErrParse)
	}

	total := parseResultsCount(cleanText(container.Text()))

	var listings []models.Listing
	doc.Find("a.results-item").Each(func(_ int, s *goquery.Selection) {
		listing := parseResultCard(s, base, category, region)
		if listing.Name == "" && listing.URL == "" {
			return
		}
		listings = append(listings, listing)
	})

	return listings, total, nil
}

// parseResultsCount reads "1-20/123 résultat(s)". Returns -1 when the
// counter is absent or unreadable.
func parseResultsCount(text string) int {
	idx := strings.Index(text, "/")
	if idx < 0 {
		return -1
	}
	rest := strings.TrimSpace(text[idx+1:])
	rest = strings.TrimSuffix(rest, "résultat(s)")
	rest = strings.ReplaceAll(rest, " ", "")
	rest = strings.ReplaceAll(rest, "\u00a0", "")
	total, err := strconv.Atoi(rest)
	if err != nil || total < 0 {
		return -1
	}
	return total
}

func parseResultCard(s *goquery.Selection, base string, category string, region string) models.Listing {
	listing := models.Listing{
		Category: category,
		Region:   region,
		URL:      absoluteURL(base, strings.TrimSpace(s.AttrOr("href", ""))),
	}

	listing.Name = cleanText(s.Find("h3").First().Text())
	lines := cardLines(s, listing.Name)

	if listing.Name == "" && len(lines) > 0 {
		listing.Name = lines[0]
		lines = lines[1:]
	}

	for _, line := range lines {
		if badge, ok := matchQualification(line); ok {
			listing.Qualifications = append(listing.Qualifications, badge)
			continue
		}
		if m := zipCityPattern.FindStringSubmatch(line); m != nil {
			listing.ZipCode = m[1]
			listing.City = m[2]
			continue
		}
		if listing.Street == "" && listing.ZipCode == "" && looksLikeStreet(line) {
			listing.Street = line
		}
	}

	return listing
}

func cardLines(s *goquery.Selection, title string) []string {
	raw := s.Text()
	parts := strings.Split(raw, "\n")
	out := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, part := range parts {
		line := cleanText(part)
		if line == "" || line == title {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}

func matchQualification(line string) (string, bool) {
	for _, badge := range qualificationBadges {
		if strings.EqualFold(line, badge) {
			return badge, true
		}
	}
	return "", false
}

func looksLikeStreet(line string) bool {
	if len(line) < 4 {
		return false
	}
	lower := strings.ToLower(line)
	if strings.Contains(lower, "km") && strings.ContainsAny(line, "0123456789") && len(line) < 12 {
		// distance badge like "12,3 km"
		return false
	}
	return true
}

// enrichListing fills phone, skills and the precise address from the
// company page.
func (a *Annuaire) enrichListing(ctx context.Context, listing *models.Listing) error {
	if listing.URL == "" {
		return nil
	}

	doc, err := a.fetch(ctx, listing.URL)
	if err != nil {
		return err
	}

	detail, err := parseCompanyPage(doc)
	if err != nil {
		return err
	}

	if detail.Name != "" {
		listing.Name = detail.Name
	}
	if detail.Street != "" {
		listing.Street = detail.Street
	}
	if detail.ZipCode != "" {
		listing.ZipCode = detail.ZipCode
	}
	if detail.City != "" {
		listing.City = detail.City
	}
	listing.Phone = detail.Phone
	listing.Skills = detail.Skills
	return nil
}

// parseCompanyPage extracts the detail fields from a company profile page.
func parseCompanyPage(doc *goquery.Document) (models.Listing, error) {
	var detail models.Listing

	detail.Name = cleanText(doc.Find("h1").First().Text())
	if detail.Name == "" {
		return detail, fmt.Errorf("%w: missing company heading", ErrParse)
	}

	addr := doc.Find("div.fs-lg.lh-md").First()
	if addr.Length() > 0 {
		lines := splitAddressLines(addr)
		if len(lines) > 0 {
			last := lines[len(lines)-1]
			if m := zipCityPattern.FindStringSubmatch(last); m != nil {
				detail.ZipCode = m[1]
				detail.City = m[2]
				lines = lines[:len(lines)-1]
			}
			detail.Street = strings.Join(lines, ", ")
		}
	}

	doc.Find("h2").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if !strings.EqualFold(cleanText(s.Text()), "Nos compétences") {
			return true
		}
		detail.Skills = cleanText(s.NextAllFiltered("div.cms").First().Text())
		return false
	})

	detail.Phone = cleanText(doc.Find("div.phone-container a").First().Text())

	return detail, nil
}

// splitAddressLines returns the visual lines of the address block,
// honoring <br> separators.
func splitAddressLines(s *goquery.Selection) []string {
	htmlText, err := s.Html()
	if err != nil {
		htmlText = s.Text()
	}
	htmlText = brPattern.ReplaceAllString(htmlText, "\n")

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlText))
	text := htmlText
	if err == nil {
		text = doc.Text()
	}

	var lines []string
	for _, part := range strings.Split(text, "\n") {
		line := cleanText(part)
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}
