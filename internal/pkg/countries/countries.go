// Package countries validates ISO 3166-1 alpha-2 codes and resolves display names.
package countries

import (
	"strings"
	"sync"

	"github.com/pariz/gountries"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Unknown is stored when no country could be derived.
const Unknown = "Unknown"

// Proxies send these when they cannot geolocate a client.
var placeholders = map[string]bool{
	"XX": true,
	"T1": true,
}

var query = sync.OnceValue(gountries.New)

// Normalize returns the upper-cased alpha-2 code for code, or "" when code is
// not a real country.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 2 || placeholders[code] {
		return ""
	}
	if _, err := query().FindCountryByAlpha(code); err != nil {
		return ""
	}
	return code
}

// Name returns the common English name of code. Unknown codes are returned
// title-cased as given.
func Name(code string) string {
	if code == "" || code == Unknown {
		return Unknown
	}
	country, err := query().FindCountryByAlpha(strings.ToUpper(code))
	if err != nil {
		return cases.Title(language.AmericanEnglish).String(strings.ToLower(code))
	}
	return country.Name.Common
}
