package guardrails

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// documentSchema is the JSON Schema for guardrails documents.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "Guardrails document",
  "type": "object",
  "required": ["name", "rules"],
  "properties": {
    "config_id": {"type": "string", "pattern": "^[a-z0-9_-]+$"},
    "name": {"type": "string", "minLength": 1},
    "scope": {
      "type": "object",
      "properties": {
        "age_group": {"type": "string"},
        "animal_id": {"type": "string"}
      }
    },
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["rule_id", "type", "category", "severity", "match"],
        "properties": {
          "rule_id": {"type": "string", "minLength": 1, "pattern": "^[A-Za-z0-9_.-]+$"},
          "type": {"type": "string", "enum": ["ALWAYS", "NEVER", "ENCOURAGE", "DISCOURAGE"]},
          "category": {"type": "string", "minLength": 1},
          "severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
          "priority": {"type": "integer"},
          "is_active": {"type": "boolean"},
          "version": {"type": "integer", "minimum": 1},
          "description": {"type": "string"},
          "match": {
            "type": "object",
            "required": ["method"],
            "properties": {
              "method": {"type": "string", "enum": ["keyword", "phrase", "regex", "similarity", "pii"]},
              "terms": {"type": "array", "items": {"type": "string", "minLength": 1, "pattern": "\\S"}},
              "pattern": {"type": "string"},
              "threshold": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
              "entities": {"type": "array", "items": {"type": "string"}},
              "confidence": {"type": "number", "minimum": 0, "maximum": 1}
            }
          }
        }
      }
    },
    "params": {
      "type": "object",
      "properties": {
        "escalation_threshold": {"type": "number", "minimum": 0, "maximum": 1},
        "max_high_rules": {"type": "integer", "minimum": 0},
        "moderation_safety_margin": {"type": "number", "minimum": 0, "maximum": 1},
        "hard_block_categories": {"type": "array", "items": {"type": "string"}},
        "fail_closed_on_moderation_outage": {"type": "boolean"},
        "advisory_message": {"type": "string"},
        "blocked_message": {"type": "string"},
        "escalated_message": {"type": "string"}
      }
    }
  }
}`

// ParseDocument validates YAML or JSON bytes against the document schema,
// then decodes them with default params and business checks applied.
func ParseDocument(data []byte) (*Document, error) {
	if err := ValidateSchema(data); err != nil {
		return nil, err
	}
	doc := &Document{Params: DefaultParams()}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("%w: decoding: %v", ErrInvalidDocument, err)
	}
	if err := doc.Check(); err != nil {
		return nil, err
	}
	return doc, nil
}

// ValidateSchema checks YAML or JSON bytes against the document schema.
// YAML is converted to JSON first because gojsonschema operates on JSON.
func ValidateSchema(data []byte) error {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: parsing: %v", ErrInvalidDocument, err)
	}
	jsonBytes, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return fmt.Errorf("%w: converting to JSON: %v", ErrInvalidDocument, err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(documentSchema),
		gojsonschema.NewBytesLoader(jsonBytes),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, verr := range result.Errors() {
			msgs = append(msgs, "- "+verr.String())
		}
		return fmt.Errorf("%w: schema validation errors:\n%s", ErrInvalidDocument, strings.Join(msgs, "\n"))
	}
	return nil
}

// Check applies rules the schema cannot express.
func (d *Document) Check() error {
	seen := make(map[string]bool, len(d.Rules))
	for _, r := range d.Rules {
		if seen[r.ID] {
			return fmt.Errorf("%w: duplicate rule_id %q", ErrInvalidDocument, r.ID)
		}
		seen[r.ID] = true
		if !r.Type.Valid() {
			return fmt.Errorf("%w: rule %s: unknown type %q", ErrInvalidDocument, r.ID, r.Type)
		}
		switch r.Match.Method {
		case MatchKeyword, MatchPhrase, MatchSimilarity:
			if len(r.Match.Terms) == 0 {
				return fmt.Errorf("%w: rule %s: %s match needs terms", ErrInvalidDocument, r.ID, r.Match.Method)
			}
			for _, term := range r.Match.Terms {
				if strings.TrimSpace(term) == "" {
					return fmt.Errorf("%w: rule %s: blank %s term", ErrInvalidDocument, r.ID, r.Match.Method)
				}
			}
		case MatchRegex:
			if r.Match.Pattern == "" {
				return fmt.Errorf("%w: rule %s: regex match needs a pattern", ErrInvalidDocument, r.ID)
			}
			if _, err := regexp.Compile(r.Match.Pattern); err != nil {
				return fmt.Errorf("%w: rule %s: %v", ErrInvalidDocument, r.ID, err)
			}
		case MatchPII:
		default:
			return fmt.Errorf("%w: rule %s: unknown match method %q", ErrInvalidDocument, r.ID, r.Match.Method)
		}
	}
	if d.Params.EscalationThreshold < 0 || d.Params.EscalationThreshold > 1 {
		return fmt.Errorf("%w: escalation_threshold must be in [0,1]", ErrInvalidDocument)
	}
	if d.Params.MaxHighRules < 0 {
		return fmt.Errorf("%w: max_high_rules must not be negative", ErrInvalidDocument)
	}
	return nil
}

// normalizeYAML converts map[interface{}]interface{} to map[string]interface{}
// so json.Marshal can handle it.
func normalizeYAML(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			out[k] = normalizeYAML(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, v := range val {
			out[fmt.Sprintf("%v", k)] = normalizeYAML(v)
		}
		return out
	case []interface{}:
		for i, item := range val {
			val[i] = normalizeYAML(item)
		}
		return val
	default:
		return v
	}
}
