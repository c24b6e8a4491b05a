package validator

import (
	"context"
	_ "embed"
	"fmt"
	"sort"

	"github.com/open-policy-agent/opa/rego"

	"github.com/nortal/cmz-chatbots/internal/guardrails"
	"github.com/nortal/cmz-chatbots/internal/moderation"
	"github.com/nortal/cmz-chatbots/internal/rules"
)

//go:embed rego/decision.rego
var decisionModule string

const decisionQuery = "data.cmz.guardrails.decision"

// DecisionEngine maps merged signals to an outcome with a prepared OPA query.
type DecisionEngine struct {
	query rego.PreparedEvalQuery
}

// Decision is the policy verdict.
type Decision struct {
	Result  Result
	Reasons []string
}

// NewDecisionEngine compiles the embedded decision policy.
func NewDecisionEngine(ctx context.Context) (*DecisionEngine, error) {
	q, err := rego.New(
		rego.Query(decisionQuery),
		rego.Module("rego/decision.rego", decisionModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing decision policy: %w", err)
	}
	return &DecisionEngine{query: q}, nil
}

// Decide evaluates blocking rules, the moderation verdict and the risk
// score against the config params.
func (d *DecisionEngine) Decide(ctx context.Context, blocking []rules.TriggeredRule, mod *moderation.Result, risk float64, params guardrails.Params) (*Decision, error) {
	results, err := d.query.Eval(ctx, rego.EvalInput(decisionInput(blocking, mod, risk, params)))
	if err != nil {
		return nil, fmt.Errorf("evaluating decision policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, fmt.Errorf("decision policy returned no result")
	}
	doc, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("decision policy returned %T", results[0].Expressions[0].Value)
	}

	res, _ := doc["result"].(string)
	out := &Decision{Result: Result(res)}
	if !out.Result.valid() {
		return nil, fmt.Errorf("decision policy returned unknown result %q", res)
	}
	if rs, ok := doc["reasons"].([]interface{}); ok {
		for _, r := range rs {
			if s, ok := r.(string); ok {
				out.Reasons = append(out.Reasons, s)
			}
		}
	}
	sort.Strings(out.Reasons)
	return out, nil
}

func decisionInput(blocking []rules.TriggeredRule, mod *moderation.Result, risk float64, params guardrails.Params) map[string]interface{} {
	ruleInput := make([]interface{}, 0, len(blocking))
	for _, t := range blocking {
		ruleInput = append(ruleInput, map[string]interface{}{
			"rule_id":  t.RuleID,
			"severity": t.Severity.String(),
		})
	}

	modInput := map[string]interface{}{
		"available":    mod != nil,
		"flagged":      false,
		"hard_blocked": []interface{}{},
	}
	if mod != nil {
		hardBlocked := make([]interface{}, 0)
		for _, c := range params.HardBlockCategories {
			if mod.FlaggedCategory(c) {
				hardBlocked = append(hardBlocked, c)
			}
		}
		modInput["flagged"] = mod.Flagged
		modInput["hard_blocked"] = hardBlocked
	}

	return map[string]interface{}{
		"rules":           ruleInput,
		"high_rule_count": rules.CountSeverity(blocking, guardrails.SeverityHigh),
		"moderation":      modInput,
		"risk_score":      risk,
		"params": map[string]interface{}{
			"escalation_threshold": params.EscalationThreshold,
			"max_high_rules":       params.MaxHighRules,
		},
	}
}
