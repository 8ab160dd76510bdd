package scraper

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"tunishome/config"
	"tunishome/identity"
	"tunishome/models"
)

const detailPathMarker = "Details_Annonces_Immobilier.asp"

// TunisieAnnonceHandler reads the server-rendered pages of tunisie-annonce.com.
type TunisieAnnonceHandler struct {
	cfg    *config.SiteConfig
	source models.Source
}

func NewTunisieAnnonceHandler(cfg *config.SiteConfig) (*TunisieAnnonceHandler, error) {
	source := models.SourceTunisieAnnonce
	if cfg.Source != "" {
		s, err := models.ParseSource(cfg.Source)
		if err != nil {
			return nil, fmt.Errorf("site %s: %w", cfg.ID, err)
		}
		source = s
	}
	return &TunisieAnnonceHandler{cfg: cfg, source: source}, nil
}

func (h *TunisieAnnonceHandler) ID() string {
	return h.cfg.ID
}

func (h *TunisieAnnonceHandler) Source() models.Source {
	return h.source
}

// IndexURL returns the search page URL; page 1 is the bare search endpoint.
func (h *TunisieAnnonceHandler) IndexURL(page int) string {
	u := h.cfg.BaseURL + h.cfg.Endpoints["search"]
	if page <= 1 {
		return u
	}
	return u + "?" + url.Values{h.cfg.PageParam: {strconv.Itoa(page)}}.Encode()
}

// ExtractLinks returns canonical detail-page URLs in document order, without duplicates.
func (h *TunisieAnnonceHandler) ExtractLinks(html, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &models.ParseError{URL: pageURL, Reason: fmt.Sprintf("parse html: %v", err)}
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, &models.ParseError{URL: pageURL, Reason: fmt.Sprintf("bad page url: %v", err)}
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").Each(func(i int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !strings.Contains(href, detailPathMarker) {
			return
		}
		abs := resolve(base, href)
		if abs == "" {
			return
		}
		canonical, err := identity.CanonicalURL(abs)
		if err != nil || seen[canonical] {
			return
		}
		seen[canonical] = true
		links = append(links, canonical)
	})
	return links, nil
}

// ExtractListing maps a detail page onto a RawListing. A page without a title, a
// detail table or a price block is rejected with a *models.ParseError.
func (h *TunisieAnnonceHandler) ExtractListing(html, sourceURL string) (*models.RawListing, error) {
	fail := func(reason string) error {
		return &models.ParseError{URL: sourceURL, Reason: reason}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fail(fmt.Sprintf("parse html: %v", err))
	}
	base, err := url.Parse(sourceURL)
	if err != nil {
		return nil, fail(fmt.Sprintf("bad source url: %v", err))
	}

	title := collapse(doc.Find("tr.da_entete").First().Text())
	if title == "" {
		title = collapse(doc.Find("title").First().Text())
	}
	if title == "" {
		return nil, fail("missing title")
	}

	fields := labeledFields(doc)
	if len(fields) == 0 {
		return nil, fail("missing detail table")
	}

	raw := &models.RawListing{
		SourceURL: sourceURL,
		Source:    h.source,
		Title:     title,
		Fields:    fields,
	}

	price, ok := raw.Field("prix")
	if !ok {
		return nil, fail("missing price block")
	}
	raw.PriceText = price
	raw.Description, _ = raw.Field("texte")
	raw.LocationText, _ = raw.Field("localisation")

	if phone, ok := raw.Field("téléphone", "telephone", "tél", "tel"); ok {
		raw.ContactPhone = phone
	} else {
		raw.ContactPhone = collapse(doc.Find(".da_contact_value").First().Text())
	}
	raw.ContactEmail, _ = raw.Field("email", "e-mail")

	raw.ImageURLs = extractImages(doc, base)
	return raw, nil
}

// labeledFields pairs each td.da_label_field with the next td.da_field_text sibling.
// Keys are lowercased labels without the trailing colon; the first occurrence wins.
func labeledFields(doc *goquery.Document) map[string]string {
	fields := make(map[string]string)
	doc.Find("td.da_label_field").Each(func(i int, s *goquery.Selection) {
		label := strings.ToLower(collapse(s.Text()))
		label = strings.TrimSpace(strings.TrimRight(label, ": "))
		if label == "" {
			return
		}
		if _, exists := fields[label]; exists {
			return
		}
		value := s.NextAllFiltered("td.da_field_text").First()
		if value.Length() == 0 {
			return
		}
		fields[label] = collapse(value.Text())
	})
	return fields
}

func extractImages(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var images []string
	collect := func(i int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		abs := resolve(base, strings.TrimSpace(src))
		if abs == "" || seen[abs] {
			return
		}
		seen[abs] = true
		images = append(images, abs)
	}

	doc.Find(`img[id^="PhotoMax_"]`).Each(collect)
	if len(images) == 0 {
		doc.Find("img.PhotoView1").Each(collect)
	}
	return images
}

func resolve(base *url.URL, ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(u).String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
