package normalize

import (
	"regexp"
	"strings"

	"tunishome/models"
)

// typeRule matches either a plain substring or, for room-count notations, a regexp.
type typeRule struct {
	keyword string
	re      *regexp.Regexp
	value   models.PropertyType
}

func (r typeRule) match(text string) bool {
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, r.keyword)
}

// Order matters: first match wins.
var propertyTypeRules = []typeRule{
	{keyword: "appartement", value: models.PropertyApartment},
	{keyword: "appart", value: models.PropertyApartment},
	{keyword: "studio", value: models.PropertyStudio},
	{re: regexp.MustCompile(`\bs1\b`), value: models.PropertyStudio},
	{re: regexp.MustCompile(`\bs\s*\+\s*[1-9]\b|\bs[2-4]\b`), value: models.PropertyApartment},
	{keyword: "maison", value: models.PropertyHouse},
	{keyword: "villa", value: models.PropertyVilla},
	{keyword: "duplex", value: models.PropertyDuplex},
	{keyword: "penthouse", value: models.PropertyPenthouse},
	{keyword: "terrain", value: models.PropertyLand},
	{keyword: "ارض", value: models.PropertyLand},
	{keyword: "أرض", value: models.PropertyLand},
	{keyword: "bureau", value: models.PropertyOffice},
	{keyword: "local commercial", value: models.PropertyCommercial},
	{keyword: "commercial", value: models.PropertyCommercial},
	{keyword: "ferme", value: models.PropertyFarm},
	{keyword: "مزرعة", value: models.PropertyFarm},
}

var (
	rentKeywords = []string{"louer", "location", "à louer", "a louer", "للكراء", "للإيجار"}
	saleKeywords = []string{"vendre", "vente", "à vendre", "a vendre", "للبيع"}
)

// ClassifyPropertyType returns nil when no rule matches; an unclassified property is allowed.
func ClassifyPropertyType(title, description string) *models.PropertyType {
	text := strings.ToLower(title + " " + description)
	for _, rule := range propertyTypeRules {
		if rule.match(text) {
			v := rule.value
			return &v
		}
	}
	return nil
}

// ClassifyListingType counts rent and sale cues across url, title and description.
// Ties, including no cues at all, resolve to SALE.
func ClassifyListingType(url, title, description string) models.ListingType {
	text := strings.ToLower(url + " " + title + " " + description)
	rent := countKeywords(text, rentKeywords)
	sale := countKeywords(text, saleKeywords)
	if rent > sale {
		return models.ListingRent
	}
	return models.ListingSale
}

func countKeywords(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		n += strings.Count(text, kw)
	}
	return n
}
