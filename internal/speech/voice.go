package speech

// Quality ranks synthesis voices. Values follow the platform TTS scale.
type Quality int

const (
	QualityVeryLow  Quality = 100
	QualityLow      Quality = 200
	QualityNormal   Quality = 300
	QualityHigh     Quality = 400
	QualityVeryHigh Quality = 500
)

// Voice is an engine-reported synthesis voice. Voices are read-only values.
type Voice struct {
	Name            string  `json:"name" yaml:"name"`
	Locale          Locale  `json:"locale" yaml:"locale"`
	NetworkRequired bool    `json:"network_required" yaml:"network_required"`
	Quality         Quality `json:"quality" yaml:"quality"`
}

func (v Voice) IsZero() bool { return v.Name == "" }
