// Package patterns provides embedded default definitions: PII recognizers in
// a Presidio-compatible format and the default guardrails document.
package patterns

import _ "embed"

//go:embed pii.yaml
var piiYAML []byte

//go:embed guardrails_default.yaml
var guardrailsDefaultYAML []byte

// PIIYAML returns the embedded default PII recognizer definitions.
func PIIYAML() []byte { return piiYAML }

// GuardrailsDefaultYAML returns the embedded default guardrails document
// applied to the (*, *) scope by "cmz guardrails apply --default".
func GuardrailsDefaultYAML() []byte { return guardrailsDefaultYAML }
