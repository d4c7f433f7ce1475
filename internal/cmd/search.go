package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/muesli/termenv"

	"github.com/jduverne/enrcli/internal/config"
	"github.com/jduverne/enrcli/internal/export"
	"github.com/jduverne/enrcli/internal/models"
	"github.com/jduverne/enrcli/internal/network"
	"github.com/jduverne/enrcli/internal/scraper"
	"github.com/jduverne/enrcli/internal/seen"
)

type SearchCmd struct {
	Category string `arg:"" optional:"" help:"Directory category slug (e.g. installateurs-photovoltaique) or alias (pv, pac, solaire, bois)."`
	SearchOptions
}

type CategoryCmd struct {
	Region string `arg:"" optional:"" help:"Region codes (comma-separated). Optional when --region-file is provided."`
	SearchOptions
	Category string `kong:"-"`
}

type SearchOptions struct {
	Region     string `help:"Region codes (comma-separated French department codes)." env:"ENRCLI_DEFAULT_REGION"`
	RegionFile string `help:"Path to JSON file with regions (top-level string array or object with regions array)."`
	Limit      int    `help:"Maximum results per region." env:"ENRCLI_DEFAULT_LIMIT"`
	Offset     int    `help:"Offset for pagination."`
	MaxPages   int    `help:"Maximum result pages per region."`
	Details    bool   `help:"Fetch each company page for phone and skills."`
	Format     string `help:"Output format: csv, json, md, tsv, table." enum:",csv,json,md,tsv,table" default:""`
	Links      string `help:"Table link display: short or full." enum:"short,full" default:"full"`
	Output     string `name:"output" short:"o" help:"Write output to a file."`
	Out        string `name:"out" help:"Alias for --output."`
	File       string `name:"file" help:"Alias for --output."`
	Proxies    string `help:"Comma-separated proxy URLs." env:"ENRCLI_PROXIES"`
	Seen       string `help:"Path to seen listings JSON file."`
	NewOnly    bool   `help:"Output only unseen listings (requires --seen)."`
	NewOut     string `help:"Write unseen listings JSON to a file (requires --seen)."`
	SeenUpdate bool   `help:"Update --seen history file by merging in newly discovered unseen listings after the scrape completes (requires --seen)."`
}

const maxRegions = 20

func (s *SearchCmd) Run(ctx *Context) error {
	return runSearch(ctx, s.Category, "", s.SearchOptions)
}

func (s *CategoryCmd) Run(ctx *Context) error {
	return runSearch(ctx, s.Category, s.Region, s.SearchOptions)
}

func runSearch(ctx *Context, category string, regionArg string, opts SearchOptions) error {
	if opts.NewOnly && strings.TrimSpace(opts.Seen) == "" {
		return fmt.Errorf("--new-only requires --seen")
	}
	if strings.TrimSpace(opts.NewOut) != "" && strings.TrimSpace(opts.Seen) == "" {
		return fmt.Errorf("--new-out requires --seen")
	}
	if opts.SeenUpdate && strings.TrimSpace(opts.Seen) == "" {
		return fmt.Errorf("--seen-update requires --seen")
	}

	cfg := ctx.Config
	category = resolveCategory(category, cfg.DefaultCategory)

	regions, err := resolveRegions(firstNonEmpty(regionArg, opts.Region, cfg.DefaultRegion), opts.RegionFile)
	if err != nil {
		return err
	}

	baseParams := models.SearchParams{
		Category: category,
		Limit:    defaultInt(opts.Limit, cfg.DefaultLimit),
		Offset:   opts.Offset,
		MaxPages: opts.MaxPages,
		Details:  opts.Details,
	}

	proxies, err := config.LoadProxies(opts.Proxies)
	if err != nil {
		return err
	}

	var rotator *network.Rotator
	if len(proxies) > 0 {
		rotator, err = network.NewRotator(proxies, 10*time.Minute)
		if err != nil {
			return err
		}
	}

	stopIndicator := startScrapeIndicator(ctx)
	if stopIndicator != nil {
		defer stopIndicator()
	}

	// One scraper (and underlying client) per region goroutine; the
	// rotator is the only shared piece and guards itself.
	newSearcher := func() (regionSearcher, error) {
		annuaire, err := newAnnuaire(ctx, rotator)
		if err != nil {
			return nil, err
		}
		return annuaire, nil
	}

	listings, failures := runRegions(newSearcher, baseParams, regions)

	sortListingsByRegion(listings)
	sortRegionFailures(failures)

	reportRegionFailures(ctx, failures)

	var unseenListings []models.Listing
	if strings.TrimSpace(opts.Seen) != "" {
		seenListings, err := seen.ReadListingsAllowMissing(opts.Seen)
		if err != nil {
			return fmt.Errorf("read --seen: %w", err)
		}
		unseenListings, _ = seen.Diff(listings, seenListings)
	}

	outputListings := listings
	if opts.NewOnly {
		outputListings = unseenListings
	}

	outputPath := resolveOutputPath(opts)
	if strings.TrimSpace(opts.NewOut) != "" && pathsEqual(outputPath, opts.NewOut) {
		return fmt.Errorf("--new-out path must differ from --output")
	}
	if strings.TrimSpace(opts.Seen) != "" && pathsEqual(outputPath, opts.Seen) {
		return fmt.Errorf("--output path must differ from --seen")
	}
	if strings.TrimSpace(opts.NewOut) != "" && pathsEqual(opts.NewOut, opts.Seen) {
		return fmt.Errorf("--new-out path must differ from --seen")
	}

	if strings.TrimSpace(opts.NewOut) != "" {
		if err := seen.WriteListings(opts.NewOut, unseenListings); err != nil {
			return fmt.Errorf("write --new-out: %w", err)
		}
	}

	format, err := resolveFormat(ctx, opts, outputPath)
	if err != nil {
		return err
	}

	writer := ctx.Out
	var file *os.File
	if outputPath != "" {
		file, err = os.Create(outputPath)
		if err != nil {
			return err
		}
		defer file.Close()
		writer = file
	}

	colorEnabled := ctx.UI != nil && ctx.UI.ColorEnabled
	hyperlinks := colorEnabled && isTTY(writer)
	linkStyle := export.LinkStyleShort
	if strings.EqualFold(opts.Links, string(export.LinkStyleFull)) {
		linkStyle = export.LinkStyleFull
	}
	if err := export.WriteListings(writer, outputListings, format, export.WriteOptions{
		ColorEnabled: colorEnabled,
		Hyperlinks:   hyperlinks,
		LinkStyle:    linkStyle,
	}); err != nil {
		return err
	}

	if opts.SeenUpdate && strings.TrimSpace(opts.Seen) != "" {
		if err := updateSeenHistory(opts.Seen, unseenListings); err != nil {
			return err
		}
	}

	summaryListings := listings
	if strings.TrimSpace(opts.Seen) != "" {
		summaryListings = unseenListings
	}
	printScrapeSummary(ctx, summaryListings)

	return nil
}

func newAnnuaire(ctx *Context, rotator *network.Rotator) (*scraper.Annuaire, error) {
	cfg := ctx.Config
	clientOpts := []network.ClientOption{}
	if cfg.RequestDelayMS > 0 {
		clientOpts = append(clientOpts, network.WithThrottle(time.Duration(cfg.RequestDelayMS)*time.Millisecond))
	}
	if cfg.MaxRetries > 0 {
		clientOpts = append(clientOpts, network.WithMaxAttempts(cfg.MaxRetries))
	}
	client, err := network.NewClient(rotator, clientOpts...)
	if err != nil {
		return nil, err
	}
	return scraper.New(client, scraper.WithLogger(ctx.Logger)), nil
}

// resolveCategory maps CLI aliases to directory slugs. Unknown values are
// passed through unchanged; the remote site decides what they mean.
func resolveCategory(value string, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		value = strings.ToLower(strings.TrimSpace(fallback))
	}
	switch value {
	case "pv", "photovoltaique":
		return scraper.CategoryPhotovoltaique
	case "pac", "pompe-a-chaleur":
		return scraper.CategoryPompeAChaleur
	case "solaire", "solaire-thermique":
		return scraper.CategorySolaireThermique
	case "bois", "bois-energie":
		return scraper.CategoryBoisEnergie
	default:
		return value
	}
}

func resolveRegions(raw string, regionFile string) ([]string, error) {
	positionalRegions := splitRegions(raw)
	var fileRegions []string
	if strings.TrimSpace(regionFile) != "" {
		var err error
		fileRegions, err = loadRegionsFromJSON(regionFile)
		if err != nil {
			return nil, err
		}
	}
	return mergeAndNormalizeRegions(positionalRegions, fileRegions)
}

func splitRegions(raw string) []string {
	parts := strings.Split(raw, ",")
	regions := make([]string, 0, len(parts))

	for _, part := range parts {
		region := strings.TrimSpace(part)
		if region == "" {
			continue
		}
		regions = append(regions, region)
	}

	return regions
}

func mergeAndNormalizeRegions(primary []string, secondary []string) ([]string, error) {
	regions := make([]string, 0, len(primary)+len(secondary))
	seenRegions := make(map[string]struct{}, len(primary)+len(secondary))

	appendUnique := func(rawRegion string) {
		region := strings.TrimSpace(rawRegion)
		if region == "" {
			return
		}
		normalized := strings.ToLower(region)
		if _, exists := seenRegions[normalized]; exists {
			return
		}
		seenRegions[normalized] = struct{}{}
		regions = append(regions, region)
	}

	for _, region := range primary {
		appendUnique(region)
	}
	for _, region := range secondary {
		appendUnique(region)
	}

	if len(regions) == 0 {
		return nil, fmt.Errorf("at least one non-empty region is required")
	}
	if len(regions) > maxRegions {
		return nil, fmt.Errorf("too many regions: max %d", maxRegions)
	}

	return regions, nil
}

func loadRegionsFromJSON(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read --region-file %q: %w", path, err)
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("parse --region-file %q: %w", path, err)
	}

	switch value := decoded.(type) {
	case []any:
		return parseStringArray(value, path, "root array")
	case map[string]any:
		rawRegions, ok := value["regions"]
		if !ok {
			return nil, fmt.Errorf("invalid --region-file %q: expected top-level string array or object with \"regions\" string array", path)
		}
		regions, ok := rawRegions.([]any)
		if !ok {
			return nil, fmt.Errorf("invalid --region-file %q: field \"regions\" must be an array of strings", path)
		}
		return parseStringArray(regions, path, "regions")
	default:
		return nil, fmt.Errorf("invalid --region-file %q: expected top-level string array or object with \"regions\" string array", path)
	}
}

func parseStringArray(values []any, path string, fieldName string) ([]string, error) {
	regions := make([]string, 0, len(values))
	for idx, rawValue := range values {
		region, ok := rawValue.(string)
		if !ok {
			return nil, fmt.Errorf("invalid --region-file %q: %s[%d] must be a string", path, fieldName, idx)
		}
		region = strings.TrimSpace(region)
		if region == "" {
			continue
		}
		regions = append(regions, region)
	}
	return regions, nil
}

type regionSearcher interface {
	Search(ctx context.Context, params models.SearchParams) ([]models.Listing, error)
}

type regionResult struct {
	region   string
	listings []models.Listing
	err      error
}

type regionFailure struct {
	region string
	err    error
}

// runRegions scrapes each region concurrently and merges the results,
// keeping page order within a region. Each goroutine gets its own
// searcher from the factory; nothing is shared between them.
func runRegions(newSearcher func() (regionSearcher, error), base models.SearchParams, regions []string) ([]models.Listing, []regionFailure) {
	var (
		wg      sync.WaitGroup
		results = make(chan regionResult, len(regions))
	)

	for _, region := range regions {
		wg.Add(1)
		go func(region string) {
			defer wg.Done()
			s, err := newSearcher()
			if err != nil {
				results <- regionResult{region: region, err: err}
				return
			}
			params := base
			params.Region = region
			listings, err := s.Search(context.Background(), params)
			results <- regionResult{region: region, listings: listings, err: err}
		}(region)
	}

	wg.Wait()
	close(results)

	byRegion := make(map[string][]models.Listing, len(regions))
	var failures []regionFailure
	for res := range results {
		if res.err != nil {
			failures = append(failures, regionFailure{region: res.region, err: res.err})
			continue
		}
		byRegion[res.region] = res.listings
	}

	var all []models.Listing
	for _, region := range regions {
		all = mergeUniqueListings(all, byRegion[region])
	}

	return all, failures
}

func mergeUniqueListings(existing []models.Listing, incoming []models.Listing) []models.Listing {
	if len(incoming) == 0 {
		return existing
	}

	keys := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]models.Listing, 0, len(existing)+len(incoming))

	for _, listing := range existing {
		merged = append(merged, listing)
		key, ok := seen.Key(listing)
		if !ok {
			continue
		}
		keys[key] = struct{}{}
	}

	for _, listing := range incoming {
		key, ok := seen.Key(listing)
		if !ok {
			merged = append(merged, listing)
			continue
		}
		if _, exists := keys[key]; exists {
			continue
		}
		keys[key] = struct{}{}
		merged = append(merged, listing)
	}

	return merged
}

func sortListingsByRegion(listings []models.Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		return strings.ToLower(listings[i].Region) < strings.ToLower(listings[j].Region)
	})
}

func sortRegionFailures(failures []regionFailure) {
	sort.SliceStable(failures, func(i, j int) bool {
		return strings.ToLower(failures[i].region) < strings.ToLower(failures[j].region)
	})
}

func reportRegionFailures(ctx *Context, failures []regionFailure) {
	if ctx == nil || ctx.UI == nil {
		return
	}
	if len(failures) == 0 {
		return
	}

	ctx.UI.Warnf("\nRegion errors:")
	for _, failure := range failures {
		ctx.UI.Warnf("  %s: %v", failure.region, failure.err)
	}
}

func updateSeenHistory(seenPath string, inputListings []models.Listing) error {
	seenListings, err := seen.ReadListingsAllowMissing(seenPath)
	if err != nil {
		return fmt.Errorf("read --seen: %w", err)
	}

	mergedListings, _ := seen.Merge(seenListings, inputListings)
	if err := seen.WriteListings(seenPath, mergedListings); err != nil {
		return fmt.Errorf("write --seen: %w", err)
	}

	return nil
}

func printScrapeSummary(ctx *Context, listings []models.Listing) {
	if ctx == nil || ctx.Err == nil {
		return
	}
	_, _ = fmt.Fprintf(ctx.Err, "%s\n", formatScrapeSummary(listings))
}

func formatScrapeSummary(listings []models.Listing) string {
	counts := countListingsByRegion(listings)
	if len(counts) == 0 {
		return "summary: new_listings=0 by_region=none"
	}

	parts := make([]string, 0, len(counts))
	for _, count := range counts {
		parts = append(parts, fmt.Sprintf("%s:%d", count.region, count.total))
	}

	return fmt.Sprintf("summary: new_listings=%d by_region=%s", len(listings), strings.Join(parts, ", "))
}

type regionCount struct {
	region string
	total  int
}

func countListingsByRegion(listings []models.Listing) []regionCount {
	regionTotals := make(map[string]int, len(listings))
	for _, listing := range listings {
		region := strings.ToLower(strings.TrimSpace(listing.Region))
		if region == "" {
			region = "unknown"
		}
		regionTotals[region]++
	}

	counts := make([]regionCount, 0, len(regionTotals))
	for region, total := range regionTotals {
		counts = append(counts, regionCount{region: region, total: total})
	}

	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].region < counts[j].region
	})
	return counts
}

func pathsEqual(a, b string) bool {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return false
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil {
		return absA == absB
	}
	return filepath.Clean(a) == filepath.Clean(b)
}

func resolveOutputPath(opts SearchOptions) string {
	if opts.Output != "" {
		return opts.Output
	}
	if opts.Out != "" {
		return opts.Out
	}
	return opts.File
}

func resolveFormat(ctx *Context, opts SearchOptions, outputPath string) (export.Format, error) {
	if outputPath != "" {
		if ctx.JSONOutput {
			return export.FormatJSON, nil
		}
		if ctx.PlainText {
			return export.FormatTSV, nil
		}
		if opts.Format == "" {
			return export.FormatCSV, nil
		}
		return parseFormat(opts.Format)
	}

	if ctx.JSONOutput {
		return export.FormatJSON, nil
	}
	if ctx.PlainText {
		return export.FormatTSV, nil
	}
	if opts.Format != "" {
		return parseFormat(opts.Format)
	}
	if isTTY(ctx.Out) {
		return export.FormatTable, nil
	}
	return export.FormatCSV, nil
}

func parseFormat(value string) (export.Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "csv":
		return export.FormatCSV, nil
	case "json":
		return export.FormatJSON, nil
	case "md", "markdown":
		return export.FormatMarkdown, nil
	case "tsv":
		return export.FormatTSV, nil
	case "table", "":
		return export.FormatTable, nil
	default:
		return "", fmt.Errorf("unknown format: %s", value)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func defaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func isTTY(out io.Writer) bool {
	output := termenv.NewOutput(out)
	return output.ColorProfile() != termenv.Ascii
}

func startScrapeIndicator(ctx *Context) func() {
	if ctx == nil || ctx.Err == nil || ctx.UI == nil {
		return nil
	}
	if !isTTY(ctx.Err) {
		return nil
	}

	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		start := time.Now()
		frames := []string{"|", "/", "-", "\\"}
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		index := 0

		for {
			select {
			case <-done:
				fmt.Fprint(ctx.Err, "\r\033[2K")
				return
			case <-ticker.C:
				seconds := int(time.Since(start).Seconds())
				frame := frames[index%len(frames)]
				fmt.Fprintf(ctx.Err, "\r\033[2KScraping... %ds %s", seconds, frame)
				index++
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}
