package language

import "strings"

// Config describes one supported conversation language: the short code used
// on the wire and the BCP-47 locale handed to built-in recognition and
// synthesis.
type Config struct {
	Code   string
	Locale string
	Name   string
}

// Table resolves language codes to locales. Lookups are case-insensitive and
// tolerate full locale strings ("en-US" resolves as "en").
type Table struct {
	defaultCode string
	byCode      map[string]Config
}

var builtin = []Config{
	{Code: "en", Locale: "en-US", Name: "English"},
	{Code: "es", Locale: "es-ES", Name: "Spanish"},
	{Code: "fr", Locale: "fr-FR", Name: "French"},
	{Code: "de", Locale: "de-DE", Name: "German"},
	{Code: "pt", Locale: "pt-BR", Name: "Portuguese"},
	{Code: "id", Locale: "id-ID", Name: "Indonesian"},
	{Code: "ja", Locale: "ja-JP", Name: "Japanese"},
}

// NewTable builds a table from overrides layered on the built-in set. An
// empty defaultCode falls back to "en".
func NewTable(defaultCode string, overrides []Config) *Table {
	byCode := make(map[string]Config, len(builtin)+len(overrides))
	for _, c := range builtin {
		byCode[c.Code] = c
	}
	for _, c := range overrides {
		code := normalize(c.Code)
		if code == "" {
			continue
		}
		c.Code = code
		if c.Locale == "" {
			if prev, ok := byCode[code]; ok {
				c.Locale = prev.Locale
			}
		}
		byCode[code] = c
	}
	defaultCode = normalize(defaultCode)
	if defaultCode == "" {
		defaultCode = "en"
	}
	return &Table{defaultCode: defaultCode, byCode: byCode}
}

// Default returns the default language code.
func (t *Table) Default() string {
	return t.defaultCode
}

// Resolve returns the config for a language code, falling back to the
// default language for unknown codes.
func (t *Table) Resolve(code string) Config {
	code = normalize(code)
	if code == "" {
		code = t.defaultCode
	}
	if c, ok := t.byCode[code]; ok {
		return c
	}
	if c, ok := t.byCode[t.defaultCode]; ok {
		return c
	}
	return Config{Code: code, Locale: code}
}

// Locale returns the speech locale for a language code.
func (t *Table) Locale(code string) string {
	return t.Resolve(code).Locale
}

func normalize(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return code
}
