package sub

import (
	"strings"
	"unicode"

	"github.com/John-Robertt/route-cli/internal/model"
)

// regionKeywords is checked in table order. words match as substrings of the
// lower-cased name; codes match whole ASCII letter tokens only, so "us" does
// not hit "Russia".
var regionKeywords = []struct {
	region model.Region
	words  []string
	codes  []string
}{
	{
		region: model.RegionSingapore,
		words:  []string{"新加坡", "狮城", "singapore", "🇸🇬"},
		codes:  []string{"sg", "sgp"},
	},
	{
		region: model.RegionKorea,
		words:  []string{"韩国", "首尔", "korea", "seoul", "🇰🇷"},
		codes:  []string{"kr", "kor"},
	},
	{
		region: model.RegionUnitedStates,
		words:  []string{"美国", "united states", "america", "los angeles", "san jose", "silicon valley", "seattle", "🇺🇸"},
		codes:  []string{"us", "usa"},
	},
}

// DeriveRegion tags a node from its name, falling back to the letter tokens of
// its server host. Unmatched nodes are RegionOther.
func DeriveRegion(name, host string) model.Region {
	lower := strings.ToLower(name)
	nameTokens := letterTokens(lower)
	for _, rk := range regionKeywords {
		for _, w := range rk.words {
			if strings.Contains(lower, w) {
				return rk.region
			}
		}
		if containsAny(nameTokens, rk.codes) {
			return rk.region
		}
	}

	hostTokens := letterTokens(strings.ToLower(host))
	for _, rk := range regionKeywords {
		if containsAny(hostTokens, rk.codes) {
			return rk.region
		}
	}
	return model.RegionOther
}

func letterTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r > unicode.MaxASCII || !unicode.IsLetter(r)
	})
}

func containsAny(tokens, codes []string) bool {
	for _, t := range tokens {
		for _, c := range codes {
			if t == c {
				return true
			}
		}
	}
	return false
}
