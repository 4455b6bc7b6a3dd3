package discovery

import (
	"regexp"
	"strings"

	"github.com/martinsuchenak/phoned/internal/model"
)

// signature describes how one phone vendor shows up in free-form text such as
// an LLDP system description, an HTTP banner or an SNMP sysDescr.
type signature struct {
	vendor    string
	fragments []string       // lowercase substrings that indicate the vendor
	modelRe   *regexp.Regexp // extracts the model token, may be nil
}

var signatures = []signature{
	{
		vendor:    "GrandStream",
		fragments: []string{"grandstream", "gxp", "grp26"},
		modelRe:   regexp.MustCompile(`(?i)\b(?:GXP|GRP|GXV|WP|DP)[0-9]{3,4}[A-Z]*\b|\bHT[0-9]{3}\b`),
	},
	{
		vendor:    "Yealink",
		fragments: []string{"yealink"},
		modelRe:   regexp.MustCompile(`(?i)\b(?:SIP-)?(T[0-9]{2}[A-Z]{0,2}|W[0-9]{2}[A-Z]?|CP[0-9]{3})\b`),
	},
	{
		vendor:    "Polycom",
		fragments: []string{"polycom", "poly "},
		modelRe:   regexp.MustCompile(`(?i)\b(?:VVX|SoundPoint IP|Trio) ?[0-9]{3,4}\b`),
	},
	{
		vendor:    "Cisco",
		fragments: []string{"cisco ip phone", "cisco systems, inc. ip phone", "spa5", "spa3"},
		modelRe:   regexp.MustCompile(`(?i)\b(?:CP-[0-9]{4}[A-Z]*|SPA[0-9]{3}[A-Z]*|[0-9]{4} Series)\b`),
	},
	{
		vendor:    "Snom",
		fragments: []string{"snom"},
		modelRe:   regexp.MustCompile(`(?i)\bsnom ?(D?[0-9]{3})\b`),
	},
	{
		vendor:    "Fanvil",
		fragments: []string{"fanvil"},
		modelRe:   regexp.MustCompile(`(?i)\b[XV][0-9]{1,2}[A-Z]{0,2}(?: Pro)?\b`),
	},
	{
		vendor:    "Htek",
		fragments: []string{"htek"},
		modelRe:   regexp.MustCompile(`(?i)\bUC[0-9]{3}[A-Z]*\b`),
	},
	{
		vendor:    "Avaya",
		fragments: []string{"avaya"},
		modelRe:   regexp.MustCompile(`(?i)\b(?:J1[0-9]{2}|96[0-9]{2})\b`),
	},
}

// MatchSignature scans free-form text for a known phone vendor and, where
// possible, the model token. ok is false when no vendor fragment matches.
func MatchSignature(text string) (vendor, phoneModel string, ok bool) {
	if text == "" {
		return "", "", false
	}
	lower := strings.ToLower(text)
	for _, sig := range signatures {
		for _, frag := range sig.fragments {
			if !strings.Contains(lower, frag) {
				continue
			}
			m := ""
			if sig.modelRe != nil {
				m = strings.TrimSpace(sig.modelRe.FindString(text))
				m = strings.TrimPrefix(m, "SIP-")
			}
			return sig.vendor, m, true
		}
	}
	return "", "", false
}

// Identify classifies a candidate from the available text signals, best
// signal first: link-layer system description, then HTTP signature, then
// SNMP sysDescr. The returned tier records which signal produced the answer
// and drives precedence when candidates are merged.
func Identify(sysDesc, httpSig, snmpDesc string) (vendor, phoneModel string, tier model.VendorTier) {
	if v, m, ok := MatchSignature(sysDesc); ok {
		return v, m, model.TierLLDP
	}
	if v, m, ok := MatchSignature(httpSig); ok {
		return v, m, model.TierHTTP
	}
	if v, m, ok := MatchSignature(snmpDesc); ok {
		return v, m, model.TierSNMP
	}
	return "", "", model.TierUnknown
}
