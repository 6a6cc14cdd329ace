package gates

import (
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/substrate-run/substrate/pkg/dispatch"
)

// Builtin gate kind names.
const (
	KindACValidation      = "ac-validation"
	KindTestCoverage      = "test-coverage"
	KindCodeReviewVerdict = "code-review-verdict"
	KindSchemaCompliance  = "schema-compliance"
)

// ACValidationEvaluator passes when the output declares every acceptance
// criterion met (ac_met: "yes").
func ACValidationEvaluator(output map[string]any) Verdict {
	v, ok := stringField(output, "ac_met")
	if !ok {
		return Verdict{
			Severity: SeverityError,
			Issues:   issue("output missing ac_met field"),
		}
	}
	if v != "yes" {
		notes, _ := stringField(output, "ac_notes")
		iss := issue("acceptance criteria not met (ac_met=%q)", v)
		if notes != "" {
			iss = append(iss, notes)
		}
		return Verdict{Severity: SeverityError, Issues: iss}
	}
	return Verdict{Pass: true}
}

// TestCoverageEvaluator passes when the output's tests block reports zero
// failures.
func TestCoverageEvaluator(output map[string]any) Verdict {
	tests, ok := output["tests"].(map[string]any)
	if !ok {
		return Verdict{
			Severity: SeverityError,
			Issues:   issue("output missing tests block"),
		}
	}
	failed, ok := intField(tests, "fail")
	if !ok {
		return Verdict{
			Severity: SeverityError,
			Issues:   issue("tests block missing fail count"),
		}
	}
	if failed > 0 {
		passed, _ := intField(tests, "pass")
		return Verdict{
			Severity: SeverityError,
			Issues:   issue("%d test(s) failing (%d passing)", failed, passed),
		}
	}
	return Verdict{Pass: true}
}

// CodeReviewVerdictEvaluator passes only on an explicit SHIP_IT verdict.
func CodeReviewVerdictEvaluator(output map[string]any) Verdict {
	verdict, ok := stringField(output, "verdict")
	if !ok {
		return Verdict{
			Severity: SeverityError,
			Issues:   issue("output missing verdict field"),
		}
	}
	if verdict != "SHIP_IT" {
		iss := issue("review verdict %q", verdict)
		if comments, ok := stringField(output, "comments"); ok && comments != "" {
			iss = append(iss, comments)
		}
		return Verdict{Severity: SeverityError, Issues: iss}
	}
	return Verdict{Pass: true}
}

// SchemaComplianceEvaluator validates the whole output against a compiled
// JSON schema.
func SchemaComplianceEvaluator(schema *jsonschema.Schema) Evaluator {
	return func(output map[string]any) Verdict {
		if err := dispatch.ValidateOutput(schema, output); err != nil {
			return Verdict{
				Severity: SeverityError,
				Issues:   issue("schema violation: %v", err),
			}
		}
		return Verdict{Pass: true}
	}
}
