package wallet

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassifyKnownFragments(t *testing.T) {
	cases := []struct {
		msg  string
		want FaultCode
	}{
		{"Mint Error: outputs have already been signed before.", FaultSecretReused},
		{"secret already used", FaultSecretReused},
		{"Mint Error: Token already spent.", FaultProofSpent},
		{"Proof already used", FaultProofSpent},
		{"connection refused", FaultUnknown},
		{"", FaultUnknown},
		// matching is case-sensitive; an upper-cased variant is unknown
		{"ALREADY SPENT", FaultUnknown},
	}

	for _, tc := range cases {
		if got := classify(tc.msg); got != tc.want {
			t.Fatalf("classify(%q) = %s, want %s", tc.msg, got, tc.want)
		}
	}
}

func TestCodeOfUnwrapsChain(t *testing.T) {
	fault := NewFault("Token already spent")
	wrapped := fmt.Errorf("melt: %w", fault)
	if got := CodeOf(wrapped); got != FaultProofSpent {
		t.Fatalf("expected PROOF_SPENT through wrap, got %s", got)
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(errors.New("already spent")); got != FaultUnknown {
		t.Fatalf("plain errors must not be classified, got %s", got)
	}
}
