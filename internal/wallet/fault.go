package wallet

import (
	"errors"
	"strings"
)

// FaultCode tags a wallet failure with a closed set of categories the swap
// engine can act on. Mapping from the daemon's textual errors to codes
// happens here, at the adapter boundary, so the engine never matches on
// error strings.
type FaultCode string

const (
	// FaultUnknown is any failure without a recognised self-healing response.
	FaultUnknown FaultCode = "UNKNOWN"
	// FaultSecretReused means the deterministic secret-derivation counter is
	// stale and produced outputs the mint has already signed.
	FaultSecretReused FaultCode = "SECRET_REUSED"
	// FaultProofSpent means one or more local proofs were already consumed
	// externally.
	FaultProofSpent FaultCode = "PROOF_SPENT"
)

// Fault is a wallet error carrying a FaultCode.
type Fault struct {
	Code    FaultCode
	Message string
}

func (f *Fault) Error() string {
	return f.Message
}

// NewFault classifies a wallet error message into a Fault.
func NewFault(msg string) *Fault {
	return &Fault{Code: classify(msg), Message: msg}
}

// CodeOf extracts the FaultCode from an error chain. Non-fault errors map
// to FaultUnknown.
func CodeOf(err error) FaultCode {
	var fault *Fault
	if errors.As(err, &fault) {
		return fault.Code
	}
	return FaultUnknown
}

// Known wallet/mint error fragments, matched case-sensitively the way the
// upstream mint implementations emit them.
var faultPatterns = []struct {
	fragment string
	code     FaultCode
}{
	{"outputs have already been signed before", FaultSecretReused},
	{"secret already used", FaultSecretReused},
	{"already spent", FaultProofSpent},
	{"Proof already used", FaultProofSpent},
}

func classify(msg string) FaultCode {
	for _, p := range faultPatterns {
		if strings.Contains(msg, p.fragment) {
			return p.code
		}
	}
	return FaultUnknown
}
