package classifier

import (
	"fmt"
	"regexp"

	"github.com/nortal/cmz-chatbots/patterns"
)

// PIIPattern is a compiled, ready-to-use PII detection pattern.
type PIIPattern struct {
	Name         string
	Entity       string // Presidio entity name, e.g. EMAIL_ADDRESS
	Pattern      *regexp.Regexp
	Score        float64
	ContextWords []string
	Sensitivity  int // 1-3, higher = more sensitive
	ValidateLuhn bool
}

// DefaultRecognizers returns the built-in recognizers from the embedded pii.yaml.
func DefaultRecognizers() ([]RecognizerConfig, error) {
	rf, err := ParseRecognizerFile(patterns.PIIYAML())
	if err != nil {
		return nil, fmt.Errorf("parsing embedded PII patterns: %w", err)
	}
	return rf.Recognizers, nil
}
