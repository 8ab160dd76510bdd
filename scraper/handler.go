package scraper

import (
	"fmt"

	"tunishome/config"
	"tunishome/models"
)

// Handler knows one site's page layout. It never performs I/O; the Fetcher does.
type Handler interface {
	ID() string
	Source() models.Source
	IndexURL(page int) string
	ExtractLinks(html, pageURL string) ([]string, error)
	ExtractListing(html, sourceURL string) (*models.RawListing, error)
}

func NewHandler(siteCfg *config.SiteConfig) (Handler, error) {
	switch siteCfg.Handler {
	case "tunisie_annonce", "":
		return NewTunisieAnnonceHandler(siteCfg)
	default:
		return nil, fmt.Errorf("site %s: unknown handler %q", siteCfg.ID, siteCfg.Handler)
	}
}
