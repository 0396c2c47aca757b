package service

import "testing"

func TestNormalize_LooseDecimalSafePreservesDecimalPoint(t *testing.T) {
	got := Normalize("3.14", LooseDecimalSafe)
	if got != "3.14" {
		t.Errorf("Normalize(%q, LooseDecimalSafe) = %q, want %q", "3.14", got, "3.14")
	}
}

func TestNormalize_LooseDecimalSafeDiffersFromConcatenatedDigits(t *testing.T) {
	dotted := Normalize("3.14", LooseDecimalSafe)
	plain := Normalize("314", LooseDecimalSafe)
	if dotted == plain {
		t.Errorf("3.14 and 314 normalized to the same string %q, want them distinct", dotted)
	}
}

func TestNormalize_LooseDecimalSafeStripsOtherPunctuation(t *testing.T) {
	got := Normalize("El art. 3.14, vigente.", LooseDecimalSafe)
	if got != "el art 3.14 vigente" {
		t.Errorf("got %q", got)
	}
}

func TestNormalize_StripsDiacritics(t *testing.T) {
	got := Normalize("café", Strict)
	if got != "cafe" {
		t.Errorf("Normalize(%q, Strict) = %q, want %q", "café", got, "cafe")
	}
}

func TestNormalize_DetectStripsTrailingPunctuation(t *testing.T) {
	got := Normalize("¿Cuál es el plazo?", Detect)
	if got != "cual es el plazo" {
		t.Errorf("got %q", got)
	}
}

func TestRepairMojibake_FixesKnownSequences(t *testing.T) {
	got := RepairMojibake("peque├▒o")
	if got != "pequeño" {
		t.Errorf("got %q, want %q", got, "pequeño")
	}
}
