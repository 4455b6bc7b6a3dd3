package phone

import (
	"github.com/martinsuchenak/phoned/internal/model"
)

// The firmware exposes configuration as a flat numeric P-code namespace
// rather than named fields. The fixed table below is the only place that
// knows the codes; everything above it works with SIPAccountConfig.
//
// Codes are for SIP account 1.
const (
	codeAccountActive = "P271" // 0 = disabled, 1 = enabled
	codeAccountName   = "P270"
	codeSIPServer     = "P47"
	codeSIPUserID     = "P35"
	codeAuthID        = "P36"
	codeAuthPassword  = "P34"
	codeDisplayName   = "P3"

	// Single-parameter trigger codes for device operations.
	codeRebootTrigger       = "P8200"
	codeFactoryResetTrigger = "P8201"
)

// sipAccountCodes lists the codes read back by GetSIPAccount.
var sipAccountCodes = []string{
	codeAccountActive,
	codeAccountName,
	codeSIPServer,
	codeSIPUserID,
	codeAuthID,
	codeAuthPassword,
	codeDisplayName,
}

// encodeSIPAccount translates the semantic account struct into the
// firmware's code/value map. Last-write-wins on the device, so encoding the
// same config twice produces identical remote state.
func encodeSIPAccount(cfg model.SIPAccountConfig) map[string]string {
	active := "0"
	if cfg.Active {
		active = "1"
	}
	return map[string]string{
		codeAccountActive: active,
		codeAccountName:   cfg.Label,
		codeSIPServer:     cfg.Server,
		codeSIPUserID:     cfg.UserID,
		codeAuthID:        cfg.AuthID,
		codeAuthPassword:  cfg.AuthPassword,
		codeDisplayName:   cfg.DisplayName,
	}
}

// decodeSIPAccount translates a code/value map read from the device back
// into the semantic struct. Missing codes yield zero values.
func decodeSIPAccount(values map[string]string) model.SIPAccountConfig {
	return model.SIPAccountConfig{
		Active:       values[codeAccountActive] == "1",
		Label:        values[codeAccountName],
		Server:       values[codeSIPServer],
		UserID:       values[codeSIPUserID],
		AuthID:       values[codeAuthID],
		AuthPassword: values[codeAuthPassword],
		DisplayName:  values[codeDisplayName],
	}
}
