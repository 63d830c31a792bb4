package storage

import (
	"strings"
	"testing"
)

func TestSanitizeErrorFirstLineOnly(t *testing.T) {
	got := SanitizeError("melt failed: insufficient liquidity\nTraceback (most recent call last):\n  ...")
	if got != "melt failed: insufficient liquidity" {
		t.Fatalf("expected first line only, got %q", got)
	}
}

func TestSanitizeErrorCapsLength(t *testing.T) {
	long := strings.Repeat("x", 5000)
	got := SanitizeError(long)
	if len(got) != maxErrorLen {
		t.Fatalf("expected %d chars, got %d", maxErrorLen, len(got))
	}
}

func TestSanitizeErrorShortMessageUnchanged(t *testing.T) {
	if got := SanitizeError("quote expired"); got != "quote expired" {
		t.Fatalf("unexpected rewrite: %q", got)
	}
}

func TestMintDeficit(t *testing.T) {
	m := Mint{Balance: 40, SumDonations: 200}
	if m.Deficit() != 160 {
		t.Fatalf("expected deficit 160, got %d", m.Deficit())
	}

	over := Mint{Balance: 300, SumDonations: 200}
	if over.Deficit() != -100 {
		t.Fatalf("expected negative deficit for over-funded mint, got %d", over.Deficit())
	}
}
