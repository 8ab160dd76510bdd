package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	priceOnRequestCues = []string{"prix sur demande", "sur demande", "nous consulter", "n/c"}
	currencyTokens     = regexp.MustCompile(`(?i)\b(dt|tnd|dinars?)\b|د\.ت`)
	amountChars        = regexp.MustCompile(`[^\d.,]`)
	// "1,5 million", "250 mille", "250k", "350 MD" (mille dinars).
	scaledAmount       = regexp.MustCompile(`(\d[\d\s\x{00a0}.,]*?)[\s\x{00a0}]*(millions?|mille|mdt?|k)\b`)

	surfacePattern  = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:m²|m2|mètres?\s+carrés?|metres?\s+carres?)`)
	firstNumber     = regexp.MustCompile(`\d+(?:[.,]\d+)?`)
	firstInt        = regexp.MustCompile(`\d+`)
	roomsNotation   = regexp.MustCompile(`(?i)\bs\s*\+\s*(\d{1,2})\b`)
	roomsShort      = regexp.MustCompile(`(?i)\bs(\d)\b`)
	roomsChambres   = regexp.MustCompile(`(?i)(\d+)\s*chambres?`)
	roomsSalonPlus  = regexp.MustCompile(`(?i)salon\s+plus\s+(\d+)`)
	bathsPattern    = regexp.MustCompile(`(?i)(\d+)\s*salles?\s+de\s+bains?`)
	bathsShort      = regexp.MustCompile(`(?i)(\d+)\s*sdb\b`)
	bathsMention    = regexp.MustCompile(`(?i)salles?\s+de\s+bains?|\bsdb\b|salle\s+d'eau`)
	floorPattern    = regexp.MustCompile(`(?i)(\d+)\s*(?:er|ère|e|ème|eme)\s+étage`)
	groundFloorCues = regexp.MustCompile(`(?i)\brdc\b|rez[\s-]de[\s-]chauss[ée]e`)
)

var priceMultipliers = map[string]float64{
	"million":  1_000_000,
	"millions": 1_000_000,
	"mille":    1_000,
	"md":       1_000,
	"mdt":      1_000,
	"k":        1_000,
}

// ParsePrice returns (price, onRequest, ok). A number always wins; the price-on-request
// cues apply only when no amount can be read. ok is false when neither is found.
func ParsePrice(text string) (float64, bool, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return 0, false, false
	}

	if m := scaledAmount.FindStringSubmatch(lower); m != nil {
		if v, ok := ParseAmount(m[1]); ok {
			return round(v*priceMultipliers[m[2]], 3), false, true
		}
	}
	if v, ok := ParseAmount(currencyTokens.ReplaceAllString(lower, "")); ok {
		return v, false, true
	}

	for _, cue := range priceOnRequestCues {
		if strings.Contains(lower, cue) {
			return 0, true, true
		}
	}
	return 0, false, false
}

// ParseAmount strips everything but digits and separators. The last '.' or ',' is a
// decimal point only when followed by one or two digits; every other separator groups thousands.
func ParseAmount(text string) (float64, bool) {
	cleaned := amountChars.ReplaceAllString(text, "")
	cleaned = strings.Trim(cleaned, ".,")
	if cleaned == "" || !strings.ContainsAny(cleaned, "0123456789") {
		return 0, false
	}

	intPart, frac := cleaned, ""
	if idx := strings.LastIndexAny(cleaned, ".,"); idx >= 0 {
		tail := len(cleaned) - idx - 1
		if tail >= 1 && tail <= 2 {
			intPart, frac = cleaned[:idx], cleaned[idx+1:]
		}
	}
	intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
	if intPart == "" {
		intPart = "0"
	}

	num := intPart
	if frac != "" {
		num += "." + frac
	}
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseSurface prefers a labeled cell and falls back to an "NN m²" mention. Non-positive results are unknown.
func parseSurface(labeled string, texts ...string) *float64 {
	if labeled != "" {
		if m := firstNumber.FindString(labeled); m != "" {
			if v, ok := ParseAmount(m); ok && v > 0 {
				return &v
			}
		}
	}
	for _, text := range texts {
		if m := surfacePattern.FindStringSubmatch(text); m != nil {
			if v, ok := ParseAmount(m[1]); ok && v > 0 {
				return &v
			}
		}
	}
	return nil
}

func parseRooms(labeled string, texts ...string) *int {
	if n, ok := leadingInt(labeled); ok {
		return &n
	}
	for _, re := range []*regexp.Regexp{roomsNotation, roomsShort, roomsChambres, roomsSalonPlus} {
		for _, text := range texts {
			if m := re.FindStringSubmatch(text); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					return &n
				}
			}
		}
	}
	return nil
}

func parseBathrooms(labeled string, texts ...string) *int {
	if n, ok := leadingInt(labeled); ok {
		return &n
	}
	for _, re := range []*regexp.Regexp{bathsPattern, bathsShort} {
		for _, text := range texts {
			if m := re.FindStringSubmatch(text); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					return &n
				}
			}
		}
	}
	for _, text := range texts {
		if bathsMention.MatchString(text) {
			one := 1
			return &one
		}
	}
	return nil
}

func parseFloor(labeled string, texts ...string) *int {
	if labeled != "" && groundFloorCues.MatchString(labeled) {
		zero := 0
		return &zero
	}
	if n, ok := leadingInt(labeled); ok {
		return &n
	}
	for _, text := range texts {
		if m := floorPattern.FindStringSubmatch(text); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return &n
			}
		}
	}
	return nil
}

func leadingInt(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	m := firstInt.FindString(text)
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
