package speech

import "fmt"

// Availability is the engine's answer to "can you speak this locale".
// Negative values are failures.
type Availability int

const (
	LangNotSupported        Availability = -2
	LangMissingData         Availability = -1
	LangAvailable           Availability = 0
	LangCountryAvailable    Availability = 1
	LangCountryVarAvailable Availability = 2
)

func (a Availability) Available() bool { return a >= LangAvailable }

// Err maps a negative availability to the error taxonomy. It returns nil for
// available locales.
func (a Availability) Err(locale Locale) *EngineError {
	switch {
	case a == LangMissingData:
		return &EngineError{
			Class:   ClassMissingLanguageData,
			Phase:   PhaseResolve,
			Code:    Code(int(a)),
			Message: fmt.Sprintf("language data is missing for %s", locale),
		}
	case a == LangNotSupported:
		return &EngineError{
			Class:   ClassUnsupportedLanguage,
			Phase:   PhaseResolve,
			Code:    Code(int(a)),
			Message: fmt.Sprintf("language %s is not supported", locale),
		}
	case a < LangAvailable:
		return InternalError(PhaseResolve, Code(int(a)), fmt.Sprintf("language %s is unavailable", locale))
	default:
		return nil
	}
}
