package classifier

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// RecognizerFile is the top-level YAML structure for a recognizer config file.
type RecognizerFile struct {
	Recognizers []RecognizerConfig `yaml:"recognizers"`
}

// RecognizerConfig follows Presidio's recognizer schema with two local
// extensions: sensitivity and validate_luhn.
type RecognizerConfig struct {
	Name               string            `yaml:"name" json:"name"`
	SupportedEntity    string            `yaml:"supported_entity" json:"supported_entity"`
	Enabled            *bool             `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Patterns           []PatternConfig   `yaml:"patterns,omitempty" json:"patterns,omitempty"`
	SupportedLanguages []LanguageContext `yaml:"supported_languages,omitempty" json:"supported_languages,omitempty"`
	Sensitivity        int               `yaml:"sensitivity,omitempty" json:"sensitivity,omitempty"`
	ValidateLuhn       bool              `yaml:"validate_luhn,omitempty" json:"validate_luhn,omitempty"`
}

// PatternConfig is a single regex pattern within a recognizer.
type PatternConfig struct {
	Name  string  `yaml:"name" json:"name"`
	Regex string  `yaml:"regex" json:"regex"`
	Score float64 `yaml:"score" json:"score"`
}

// LanguageContext holds context words for a specific language.
type LanguageContext struct {
	Language string   `yaml:"language" json:"language"`
	Context  []string `yaml:"context,omitempty" json:"context,omitempty"`
}

func (r *RecognizerConfig) isEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

func (r *RecognizerConfig) contextWords() []string {
	var words []string
	for _, l := range r.SupportedLanguages {
		words = append(words, l.Context...)
	}
	return words
}

// ParseRecognizerFile parses recognizer YAML bytes into a RecognizerFile.
func ParseRecognizerFile(data []byte) (*RecognizerFile, error) {
	var rf RecognizerFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing recognizer YAML: %w", err)
	}
	return &rf, nil
}

// MergeRecognizers layers recognizer lists. Later layers replace earlier
// entries with the same Name; new names are appended.
func MergeRecognizers(layers ...[]RecognizerConfig) []RecognizerConfig {
	index := make(map[string]int)
	var merged []RecognizerConfig
	for _, layer := range layers {
		for _, rc := range layer {
			if idx, exists := index[rc.Name]; exists {
				merged[idx] = rc
				continue
			}
			index[rc.Name] = len(merged)
			merged = append(merged, rc)
		}
	}
	return merged
}

// FilterByEntities keeps only recognizers whose supported_entity is in
// enabled (when non-empty). Entity names compare case-insensitively.
func FilterByEntities(recognizers []RecognizerConfig, enabled []string) []RecognizerConfig {
	if len(enabled) == 0 {
		return recognizers
	}
	allowed := make(map[string]bool, len(enabled))
	for _, e := range enabled {
		allowed[strings.ToUpper(e)] = true
	}
	var out []RecognizerConfig
	for _, r := range recognizers {
		if allowed[strings.ToUpper(r.SupportedEntity)] {
			out = append(out, r)
		}
	}
	return out
}

// CompilePIIPatterns turns recognizer configs into runtime patterns, one per
// regex. Disabled recognizers are skipped.
func CompilePIIPatterns(recognizers []RecognizerConfig) ([]PIIPattern, error) {
	var out []PIIPattern
	for _, rec := range recognizers {
		if !rec.isEnabled() {
			continue
		}
		for _, p := range rec.Patterns {
			compiled, err := regexp.Compile(p.Regex)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern %q in recognizer %q: %w", p.Name, rec.Name, err)
			}
			out = append(out, PIIPattern{
				Name:         rec.Name,
				Entity:       strings.ToUpper(rec.SupportedEntity),
				Pattern:      compiled,
				Score:        p.Score,
				ContextWords: rec.contextWords(),
				Sensitivity:  rec.Sensitivity,
				ValidateLuhn: rec.ValidateLuhn,
			})
		}
	}
	return out, nil
}
