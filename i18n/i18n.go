// Package i18n provides localized strings and reading direction keyed by
// two-letter language code, from catalogs embedded at build time.
package i18n

import (
	"embed"
	"fmt"
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Direction is the reading direction of a language.
type Direction string

const (
	LTR Direction = "ltr"
	RTL Direction = "rtl"
)

// DefaultLanguage is used when detection finds nothing supported.
const DefaultLanguage = "ar"

// fallbackLanguage backs translations missing from a catalog.
const fallbackLanguage = "fr"

//go:embed locales/*.toml
var localeFS embed.FS

type catalogFile struct {
	Direction Direction         `toml:"direction"`
	Messages  map[string]string `toml:"messages"`
}

// Catalog holds every loaded language.
type Catalog struct {
	langs map[string]catalogFile
}

var std = mustLoad()

func mustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Load parses the embedded catalogs.
func Load() (*Catalog, error) {
	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, err
	}
	c := &Catalog{langs: make(map[string]catalogFile, len(entries))}
	for _, e := range entries {
		raw, err := localeFS.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, err
		}
		var f catalogFile
		if err := toml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", e.Name(), err)
		}
		if f.Direction == "" {
			f.Direction = LTR
		}
		c.langs[strings.TrimSuffix(e.Name(), ".toml")] = f
	}
	return c, nil
}

// Default returns the embedded catalog.
func Default() *Catalog { return std }

// Supported reports whether lang has a catalog.
func (c *Catalog) Supported(lang string) bool {
	_, ok := c.langs[lang]
	return ok
}

// T returns the translation of code in lang, then in the fallback language, then code itself.
func (c *Catalog) T(lang, code string) string {
	if f, ok := c.langs[lang]; ok {
		if s, ok := f.Messages[code]; ok {
			return s
		}
	}
	if s, ok := c.langs[fallbackLanguage].Messages[code]; ok {
		return s
	}
	return code
}

// Dir returns the reading direction of lang. Unknown languages read left to right.
func (c *Catalog) Dir(lang string) Direction {
	if f, ok := c.langs[lang]; ok {
		return f.Direction
	}
	return LTR
}

// DetectLanguage picks the first supported language of an Accept-Language style list.
func (c *Catalog) DetectLanguage(accept string) string {
	for _, part := range strings.Split(accept, ",") {
		tag, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		base, _, _ := strings.Cut(strings.ToLower(tag), "-")
		if c.Supported(base) {
			return base
		}
	}
	return DefaultLanguage
}

// T translates with the default catalog.
func T(lang, code string) string { return std.T(lang, code) }

// Dir returns the direction from the default catalog.
func Dir(lang string) Direction { return std.Dir(lang) }

// DetectLanguage detects with the default catalog.
func DetectLanguage(accept string) string { return std.DetectLanguage(accept) }
