package discovery

import (
	"testing"

	"github.com/martinsuchenak/phoned/internal/model"
)

func TestMatchSignature(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantVendor string
		wantModel  string
		wantOK     bool
	}{
		{
			name:       "grandstream lldp description",
			text:       "GrandStream GXP1630 1.0.11.23",
			wantVendor: "GrandStream",
			wantModel:  "GXP1630",
			wantOK:     true,
		},
		{
			name:       "grandstream http banner",
			text:       "Grandstream GXP2170 webserver",
			wantVendor: "GrandStream",
			wantModel:  "GXP2170",
			wantOK:     true,
		},
		{
			name:       "yealink with sip prefix",
			text:       "Yealink SIP-T54W 96.86.0.45",
			wantVendor: "Yealink",
			wantModel:  "T54W",
			wantOK:     true,
		},
		{
			name:       "polycom vvx",
			text:       "Polycom VVX 450",
			wantVendor: "Polycom",
			wantModel:  "VVX 450",
			wantOK:     true,
		},
		{
			name:       "cisco ip phone",
			text:       "Cisco IP Phone CP-8841",
			wantVendor: "Cisco",
			wantModel:  "CP-8841",
			wantOK:     true,
		},
		{
			name:       "snom desk phone",
			text:       "snom D735 10.1.54.13",
			wantVendor: "Snom",
			wantModel:  "snom D735",
			wantOK:     true,
		},
		{
			name:   "plain linux server",
			text:   "Linux ubuntu 5.15.0 x86_64",
			wantOK: false,
		},
		{
			name:   "network switch",
			text:   "ProCurve J9727A Switch 2920-24G",
			wantOK: false,
		},
		{
			name:   "empty",
			text:   "",
			wantOK: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vendor, phoneModel, ok := MatchSignature(tt.text)
			if ok != tt.wantOK {
				t.Fatalf("MatchSignature(%q) ok = %v, want %v", tt.text, ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if vendor != tt.wantVendor {
				t.Errorf("vendor = %q, want %q", vendor, tt.wantVendor)
			}
			if phoneModel != tt.wantModel {
				t.Errorf("model = %q, want %q", phoneModel, tt.wantModel)
			}
		})
	}
}

func TestIdentify_TierPrecedence(t *testing.T) {
	// The link-layer description wins over the HTTP banner.
	vendor, _, tier := Identify("Yealink SIP-T54W", "Grandstream GXP1630 webserver", "")
	if vendor != "Yealink" || tier != model.TierLLDP {
		t.Errorf("Identify = (%q, tier %v), want Yealink at the lldp tier", vendor, tier)
	}

	// With no link-layer signal the HTTP banner classifies.
	vendor, _, tier = Identify("", "Grandstream GXP1630 webserver", "")
	if vendor != "GrandStream" || tier != model.TierHTTP {
		t.Errorf("Identify = (%q, tier %v), want GrandStream at the http tier", vendor, tier)
	}

	// SNMP is the last resort.
	vendor, _, tier = Identify("", "", "snom D735 10.1.54.13")
	if vendor != "Snom" || tier != model.TierSNMP {
		t.Errorf("Identify = (%q, tier %v), want Snom at the snmp tier", vendor, tier)
	}

	vendor, _, tier = Identify("", "", "")
	if vendor != "" || tier != model.TierUnknown {
		t.Errorf("Identify with no signals = (%q, tier %v), want unclassified", vendor, tier)
	}
}
