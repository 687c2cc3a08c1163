package transcript

import (
	"reflect"
	"strings"
	"testing"
)

func TestTokenizeSplitsRuns(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"Hello ", []string{"Hello", " "}},
		{"world.", []string{"world", "."}},
		{"hi, there!", []string{"hi", ",", " ", "there", "!"}},
		{"don't stop-now...", []string{"don't", " ", "stop-now", "..."}},
		{"(quoted) \"text\"", []string{"(", "quoted", ")", " ", "\"", "text", "\""}},
		{"café  naïve\n", []string{"café", "  ", "naïve", "\n"}},
	}
	for _, tc := range cases {
		got := Tokenize(tc.in)
		if !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Tokenize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestTokenizeReconstructsInput(t *testing.T) {
	inputs := []string{
		"Hello world.",
		"  leading and trailing  ",
		"Émojis 🎉 and ✓ marks — dashes – and “quotes”",
		"tabs\tand\r\nnewlines\vvertical",
		"numbers 1,234.56 and under_scores",
		" nbsp em space",
		"a\xffb",
	}
	for _, in := range inputs {
		if got := strings.Join(Tokenize(in), ""); got != in {
			t.Fatalf("reconstruction mismatch: got %q, want %q", got, in)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"Hello":     "hello",
		"world.":    "world",
		"\"Quoted,": "quoted",
		"don't":     "don't",
		"-dash-":    "-dash-",
		"...":       "",
		"":          "",
		"ÉCOLE!":    "école",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHasWordChar(t *testing.T) {
	if !HasWordChar("go") || !HasWordChar("42") || !HasWordChar("é") {
		t.Fatal("expected word characters")
	}
	if HasWordChar(" ") || HasWordChar(",") || HasWordChar("'-") {
		t.Fatal("expected no word characters")
	}
}
