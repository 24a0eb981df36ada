package voice

import (
	"fmt"
	"log/slog"

	"github.com/ent0n29/speechkit/internal/speech"
)

// Resolver picks the locale and voice a speak request runs with.
type Resolver struct {
	DefaultLocale speech.Locale
	PreferOffline bool
	// Strict turns a failed set-language step into an error instead of a
	// fallback to DefaultLocale.
	Strict bool
	Logger *slog.Logger
}

// Locale returns requested, or the default locale when requested is empty.
func (r *Resolver) Locale(requested speech.Locale) speech.Locale {
	if requested.IsZero() {
		return r.DefaultLocale
	}
	return requested
}

// Check fails when tts reports missing data or no support for l.
func (r *Resolver) Check(tts speech.Synthesizer, l speech.Locale) error {
	if a := tts.LanguageAvailability(l); !a.Available() {
		return a.Err(l)
	}
	return nil
}

// Apply sets the language on tts and switches to the best voice for it. It
// returns the locale the engine ended up with.
func (r *Resolver) Apply(tts speech.Synthesizer, l speech.Locale) (speech.Locale, speech.Voice, error) {
	if err := tts.SetLanguage(l); err != nil {
		if r.Strict {
			return speech.Locale{}, speech.Voice{}, &speech.EngineError{
				Class:   speech.ClassUnsupportedLanguage,
				Phase:   speech.PhaseResolve,
				Message: fmt.Sprintf("set language %s", l),
				Err:     err,
			}
		}
		r.Logger.Warn("failed to set language; falling back to default", "locale", l.String(), "default", r.DefaultLocale.String(), "error", err)
		if err := tts.SetLanguage(r.DefaultLocale); err != nil {
			r.Logger.Error("failed to set default language", "locale", r.DefaultLocale.String(), "error", err)
		}
	}

	current := tts.Voice()
	v := SelectVoice(tts.Voices(), tts.Language(), r.PreferOffline, current)
	if v.Name != current.Name {
		if err := tts.SetVoice(v); err != nil {
			r.Logger.Warn("failed to switch voice", "voice", v.Name, "error", err)
			v = current
		}
	}
	return tts.Language(), v, nil
}

// SelectVoice returns the first voice matching target's ISO3 language and
// country whose network requirement differs from preferOffline, or current
// when none does.
func SelectVoice(voices []speech.Voice, target speech.Locale, preferOffline bool, current speech.Voice) speech.Voice {
	for _, v := range voices {
		if !v.Locale.SameLanguageAndCountry(target) {
			continue
		}
		if v.NetworkRequired != preferOffline {
			return v
		}
	}
	return current
}
