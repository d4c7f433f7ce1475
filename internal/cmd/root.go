package cmd

import (
	"github.com/alecthomas/kong"

	"github.com/jduverne/enrcli/internal/scraper"
)

type CLI struct {
	Color   string `help:"Color output: auto, always, never." enum:"auto,always,never" default:"auto"`
	JSON    bool   `help:"JSON output to stdout; disables colors."`
	Plain   bool   `help:"TSV output to stdout; disables colors."`
	Verbose bool   `help:"Enable debug logging."`

	VersionFlag kong.VersionFlag `help:"Print version."`

	Version VersionCmd  `cmd:"" help:"Print version."`
	Config  ConfigCmd   `cmd:"" help:"Manage configuration."`
	Search  SearchCmd   `cmd:"" help:"Scrape directory listings for a category."`
	Pv      CategoryCmd `cmd:"" name:"pv" help:"Scrape photovoltaic installers."`
	Pac     CategoryCmd `cmd:"" name:"pac" help:"Scrape heat pump installers."`
	Solaire CategoryCmd `cmd:"" name:"solaire" help:"Scrape solar thermal installers."`
	Bois    CategoryCmd `cmd:"" name:"bois" help:"Scrape wood energy installers."`
	Seen    SeenCmd     `cmd:"" help:"Seen listings utilities."`
	Proxies ProxiesCmd  `cmd:"" help:"Proxy utilities."`
}

func NewCLI() *CLI {
	return &CLI{
		Pv:      CategoryCmd{Category: scraper.CategoryPhotovoltaique},
		Pac:     CategoryCmd{Category: scraper.CategoryPompeAChaleur},
		Solaire: CategoryCmd{Category: scraper.CategorySolaireThermique},
		Bois:    CategoryCmd{Category: scraper.CategoryBoisEnergie},
	}
}
