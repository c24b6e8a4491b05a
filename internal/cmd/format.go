package cmd

import (
	"encoding/json"
	"fmt"
	"io"
)

// formatRatio formats a [0,1] ratio as a percentage with one decimal.
func formatRatio(r float64) string {
	return fmt.Sprintf("%.1f%%", r*100)
}

// formatScore formats a score with two decimals; tiny non-zero scores are
// shown as "< 0.01" so they do not read as zero.
func formatScore(s float64) string {
	if s > 0 && s < 0.01 {
		return "< 0.01"
	}
	return fmt.Sprintf("%.2f", s)
}

// redact shows whether a secret is set without printing it.
func redact(secret string) string {
	switch {
	case secret == "":
		return "(not set)"
	case len(secret) <= 8:
		return "****"
	default:
		return secret[:4] + "****"
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
