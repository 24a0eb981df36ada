package speech

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
)

// Locale is a language with an optional country, e.g. en-US.
// The zero value means "no locale".
type Locale struct {
	tag language.Tag
}

// ParseLocale accepts BCP 47 tags ("en-US") as well as POSIX style locale
// names ("en_US.UTF-8"). A blank string parses to the zero Locale.
func ParseLocale(s string) (Locale, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	if s == "" || s == "C" || s == "POSIX" {
		return Locale{}, nil
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return Locale{}, fmt.Errorf("parse locale %q: %w", s, err)
	}
	return Locale{tag: tag}, nil
}

// MustParseLocale is like ParseLocale but panics on error.
func MustParseLocale(s string) Locale {
	l, err := ParseLocale(s)
	if err != nil {
		panic(err)
	}
	return l
}

// SystemLocale reads the process locale from LC_ALL, LC_MESSAGES and LANG,
// falling back to en-US.
func SystemLocale() Locale {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		l, err := ParseLocale(os.Getenv(key))
		if err == nil && !l.IsZero() {
			return l
		}
	}
	return MustParseLocale("en-US")
}

func (l Locale) IsZero() bool { return l.tag == language.Und }

// Language returns the ISO 639 language code ("en"), or "" for the zero Locale.
func (l Locale) Language() string {
	if l.IsZero() {
		return ""
	}
	base, _, _ := l.tag.Raw()
	return base.String()
}

// Country returns the region code ("US"), or "" when the locale has none.
func (l Locale) Country() string {
	_, _, region := l.tag.Raw()
	if region == (language.Region{}) {
		return ""
	}
	return region.String()
}

// ISO3Language returns the three letter language code ("eng").
func (l Locale) ISO3Language() string {
	if l.IsZero() {
		return ""
	}
	base, _, _ := l.tag.Raw()
	return base.ISO3()
}

// ISO3Country returns the three letter country code ("USA"), or "" when the
// locale carries no country.
func (l Locale) ISO3Country() string {
	_, _, region := l.tag.Raw()
	if region == (language.Region{}) {
		return ""
	}
	return region.ISO3()
}

// SameLanguageAndCountry compares two locales by ISO3 language and country.
func (l Locale) SameLanguageAndCountry(o Locale) bool {
	return l.ISO3Language() == o.ISO3Language() && l.ISO3Country() == o.ISO3Country()
}

func (l Locale) String() string {
	if l.IsZero() {
		return ""
	}
	return l.tag.String()
}

func (l Locale) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

func (l *Locale) UnmarshalText(text []byte) error {
	parsed, err := ParseLocale(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
