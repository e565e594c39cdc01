package util

import (
	"regexp"
	"strings"

	"github.com/openclaw/wa-gateway/internal/config"
)

var msisdnRegex = regexp.MustCompile(`^\d{8,15}$`)
var msisdnStrip = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

// NormalizeMSISDN strips spaces/dashes/parentheses, drops a leading "+", and
// translates a leading "0" to the default country prefix. Returns false if
// the normalized result doesn't match ^\d{8,15}$.
func NormalizeMSISDN(to string) (string, bool) {
	cleaned := msisdnStrip.Replace(to)
	cleaned = strings.TrimPrefix(cleaned, "+")
	if strings.HasPrefix(cleaned, "0") {
		cleaned = config.DefaultCountryCode + strings.TrimPrefix(cleaned, "0")
	}
	if !msisdnRegex.MatchString(cleaned) {
		return "", false
	}
	return cleaned, true
}
