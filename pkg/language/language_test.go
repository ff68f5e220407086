package language

import "testing"

func TestTableResolvesBuiltins(t *testing.T) {
	tbl := NewTable("en", nil)
	if got := tbl.Locale("es"); got != "es-ES" {
		t.Fatalf("es locale: %q", got)
	}
	if got := tbl.Locale("ja"); got != "ja-JP" {
		t.Fatalf("ja locale: %q", got)
	}
}

func TestTableNormalizesCodes(t *testing.T) {
	tbl := NewTable("en", nil)
	cases := map[string]string{
		"EN":    "en-US",
		"en-GB": "en-US",
		"pt_BR": "pt-BR",
		" fr ":  "fr-FR",
	}
	for code, want := range cases {
		if got := tbl.Locale(code); got != want {
			t.Fatalf("Locale(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestTableUnknownFallsBackToDefault(t *testing.T) {
	tbl := NewTable("id", nil)
	cfg := tbl.Resolve("xx")
	if cfg.Code != "id" || cfg.Locale != "id-ID" {
		t.Fatalf("unknown code resolved to %+v", cfg)
	}
}

func TestTableOverrides(t *testing.T) {
	tbl := NewTable("en", []Config{
		{Code: "en", Locale: "en-GB"},
		{Code: "sv", Locale: "sv-SE", Name: "Swedish"},
	})
	if got := tbl.Locale("en"); got != "en-GB" {
		t.Fatalf("override lost: %q", got)
	}
	if got := tbl.Locale("sv"); got != "sv-SE" {
		t.Fatalf("new language: %q", got)
	}
}

func TestTableDefaultCode(t *testing.T) {
	tbl := NewTable("", nil)
	if tbl.Default() != "en" {
		t.Fatalf("empty default resolved to %q", tbl.Default())
	}
}
