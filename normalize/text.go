package normalize

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type featureRule struct {
	tag     string
	pattern *regexp.Regexp
}

// keywordRule matches whole words only, allowing a trailing e/s/es agreement,
// so "meublée" counts but "immeuble" does not.
func keywordRule(tag string, keywords ...string) featureRule {
	quoted := make([]string, len(keywords))
	for i, kw := range keywords {
		quoted[i] = regexp.QuoteMeta(kw)
	}
	return featureRule{
		tag:     tag,
		pattern: regexp.MustCompile(`(?:^|[^\p{L}\p{N}])(?:` + strings.Join(quoted, "|") + `)(?:e|s|es)?(?:[^\p{L}\p{N}]|$)`),
	}
}

// Tags come out in table order, each at most once.
var featureRules = []featureRule{
	keywordRule("parking", "parking", "garage", "stationnement"),
	keywordRule("elevator", "ascenseur", "lift"),
	keywordRule("garden", "jardin", "espace vert", "espaces verts", "green space"),
	keywordRule("pool", "piscine", "pool", "swimming"),
	keywordRule("balcony", "balcon", "terrasse", "balcony"),
	keywordRule("furnished", "meublé", "meuble", "furnished", "équipé"),
	keywordRule("air_conditioning", "climatisé", "climatisation", "clim", "a/c", "climatiseur"),
	keywordRule("heating", "chauffage", "heating"),
	keywordRule("security", "gardé", "sécurisé", "security", "concierge", "gardien"),
	keywordRule("fiber", "fibre", "fiber", "internet", "wifi"),
}

var negotiableCues = []string{
	"négociable", "negociable", "à négocier", "a negocier", "à discuter", "a discuter", "قابل للتفاوض",
}

var (
	hashtagRegex    = regexp.MustCompile(`#(\S)`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
	repeatedPunct   = regexp.MustCompile(`([.!?])[.!?]+`)
	countryNames    = map[string]bool{"tunisie": true, "tunisia": true}
)

// ExtractFeatures never returns nil.
func ExtractFeatures(texts ...string) []string {
	text := strings.ToLower(strings.Join(texts, " "))
	features := []string{}
	for _, rule := range featureRules {
		if rule.pattern.MatchString(text) {
			features = append(features, rule.tag)
		}
	}
	return features
}

func IsNegotiable(texts ...string) bool {
	text := strings.ToLower(strings.Join(texts, " "))
	for _, cue := range negotiableCues {
		if strings.Contains(text, cue) {
			return true
		}
	}
	return false
}

// CleanDescription strips hashtag markers, collapses whitespace and repeated terminal punctuation.
func CleanDescription(text string) string {
	text = hashtagRegex.ReplaceAllString(text, "$1")
	text = whitespaceRegex.ReplaceAllString(text, " ")
	text = repeatedPunct.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// ParseLocation splits a breadcrumb such as "Tunisie > Bizerte > Bizerte Nord > Bizerte"
// into (city, region). The leading country crumb is dropped.
func ParseLocation(text string) (city, region *string) {
	var parts []string
	for _, p := range strings.Split(text, ">") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) > 0 && countryNames[strings.ToLower(parts[0])] {
		parts = parts[1:]
	}

	switch len(parts) {
	case 0:
		return nil, nil
	case 1:
		c := titleCase(parts[0])
		return &c, nil
	default:
		r := titleCase(parts[0])
		c := titleCase(parts[1])
		return &c, &r
	}
}

// Casers are stateful, so each call builds its own.
func titleCase(s string) string {
	return cases.Title(language.French).String(whitespaceRegex.ReplaceAllString(strings.TrimSpace(s), " "))
}
