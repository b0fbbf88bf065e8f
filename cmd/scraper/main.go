// Command scraper serves the media scraping API and manages its database schema.
//
// Run locally with `scraper serve --config config.yaml`, or rely on SCRAPER_*
// environment variables (a .env file in the working directory is honored).
// Without db.dsn pages are cached in memory only.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
