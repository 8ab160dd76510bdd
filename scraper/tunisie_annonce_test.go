package scraper

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"tunishome/config"
	"tunishome/models"
)

const detailURL = "http://www.tunisie-annonce.com/Details_Annonces_Immobilier.asp?cod_ann=3012345"

func loadFixture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join("testdata", name)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fixture %s: %v", name, err)
	}
	return string(data)
}

func testSiteConfig() *config.SiteConfig {
	return &config.SiteConfig{
		ID:        "tunisie_annonce",
		Name:      "Tunisie Annonce",
		Handler:   "tunisie_annonce",
		Source:    "TUNISIE_ANNONCE",
		BaseURL:   "http://www.tunisie-annonce.com",
		Endpoints: map[string]string{"search": "/AnnoncesImmobilier.asp"},
		PageParam: "rech_page",
		Encoding:  "windows-1252",
		MaxPages:  3,
	}
}

func newTestHandler(t *testing.T) *TunisieAnnonceHandler {
	t.Helper()
	h, err := NewTunisieAnnonceHandler(testSiteConfig())
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	return h
}

func TestIndexURL(t *testing.T) {
	h := newTestHandler(t)
	if got := h.IndexURL(1); got != "http://www.tunisie-annonce.com/AnnoncesImmobilier.asp" {
		t.Errorf("page 1 = %s", got)
	}
	if got := h.IndexURL(3); got != "http://www.tunisie-annonce.com/AnnoncesImmobilier.asp?rech_page=3" {
		t.Errorf("page 3 = %s", got)
	}
}

func TestExtractLinks(t *testing.T) {
	h := newTestHandler(t)
	links, err := h.ExtractLinks(loadFixture(t, "search.html"), h.IndexURL(1))
	if err != nil {
		t.Fatalf("extract links: %v", err)
	}
	want := []string{
		"http://www.tunisie-annonce.com/Details_Annonces_Immobilier.asp?cod_ann=3012345",
		"http://www.tunisie-annonce.com/Details_Annonces_Immobilier.asp?cod_ann=3012399",
		"http://www.tunisie-annonce.com/Details_Annonces_Immobilier.asp?cod_ann=3012400",
	}
	if !slices.Equal(links, want) {
		t.Fatalf("links = %v\nwant %v", links, want)
	}
}

func TestExtractListing(t *testing.T) {
	h := newTestHandler(t)
	raw, err := h.ExtractListing(loadFixture(t, "detail.html"), detailURL)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if raw.Title != "Appartement S+2 à vendre à Bizerte" {
		t.Errorf("title = %q", raw.Title)
	}
	if raw.Source != models.SourceTunisieAnnonce {
		t.Errorf("source = %s", raw.Source)
	}
	if raw.PriceText != "200 000 DT" {
		t.Errorf("price text = %q, first price cell should win", raw.PriceText)
	}
	if raw.LocationText != "Tunisie > Bizerte > Bizerte Nord > Corniche" {
		t.Errorf("location = %q", raw.LocationText)
	}
	if raw.Description != "Bel appartement au 2ème étage, proche de la plage, avec parking. Prix négociable." {
		t.Errorf("description = %q", raw.Description)
	}
	if raw.ContactPhone != "+216 98 123 456" {
		t.Errorf("phone = %q", raw.ContactPhone)
	}
	if v, _ := raw.Field("surface"); v != "120 m²" {
		t.Errorf("surface field = %q", v)
	}

	wantImages := []string{
		"http://www.tunisie-annonce.com/upload2/photo_1.jpg",
		"http://www.tunisie-annonce.com/upload2/photo_2.jpg",
	}
	if !slices.Equal(raw.ImageURLs, wantImages) {
		t.Errorf("images = %v", raw.ImageURLs)
	}
}

func TestExtractListing_MissingPrice(t *testing.T) {
	h := newTestHandler(t)
	_, err := h.ExtractListing(loadFixture(t, "detail_no_price.html"), detailURL)
	var pe *models.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ParseError", err)
	}
	if pe.Reason != "missing price block" {
		t.Errorf("reason = %q", pe.Reason)
	}
}

func TestExtractListing_StructuralAnchors(t *testing.T) {
	h := newTestHandler(t)
	tests := []struct {
		name   string
		html   string
		reason string
	}{
		{"no title", `<html><body><table><tr><td class="da_label_field">Prix</td><td class="da_field_text">1 DT</td></tr></table></body></html>`, "missing title"},
		{"no detail table", `<html><head><title>Annonce</title></head><body><p>Rien</p></body></html>`, "missing detail table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.ExtractListing(tt.html, detailURL)
			var pe *models.ParseError
			if !errors.As(err, &pe) || pe.Reason != tt.reason {
				t.Errorf("err = %v, want %q", err, tt.reason)
			}
		})
	}
}

func TestExtractListing_OptionalFieldsMissing(t *testing.T) {
	h := newTestHandler(t)
	html := `<html><head><title>Terrain à vendre</title></head><body><table>
		<tr><td class="da_label_field">Prix :</td><td class="da_field_text">Prix à discuter</td></tr>
	</table></body></html>`
	raw, err := h.ExtractListing(html, detailURL)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if raw.Title != "Terrain à vendre" || raw.Description != "" || len(raw.ImageURLs) != 0 {
		t.Errorf("raw = %+v", raw)
	}
}

func TestNewHandler_UnknownHandler(t *testing.T) {
	cfg := testSiteConfig()
	cfg.Handler = "playwright"
	if _, err := NewHandler(cfg); err == nil {
		t.Error("expected error for unknown handler")
	}
}
