package service

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

var (
	operatorRe  = regexp.MustCompile(`[+\-*/]`)
	digitRe     = regexp.MustCompile(`\d`)
	nonMathRe   = regexp.MustCompile(`[^0-9+\-*/().\s]`)
	greetingRe  = regexp.MustCompile(`(?i)^(hi|hello|hey|greetings)`)
	thanksRe    = regexp.MustCompile(`(?i)^(thanks|thank you|thx)`)
	abilitiesRe = regexp.MustCompile(`(?i)what can you do|your capabilities|help me with`)
	andSeqRe    = regexp.MustCompile(`(?i)and`)
	digitsRe    = regexp.MustCompile(`^\d+$`)
)

// isNonSubstantive reports whether a webhook reply carries no real content:
// empty, the known no-response marker, or an echo of one of our own typing
// placeholders.
func isNonSubstantive(text string, p placeholderSet) bool {
	if text == "" || text == p.NoResponse {
		return true
	}
	for _, ph := range p.typing() {
		if strings.Contains(text, ph) {
			return true
		}
	}
	return false
}

// looksLikeArithmetic reports whether the message reduces to a numeric
// expression once everything but digits, operators, parens and dots is
// stripped.
func looksLikeArithmetic(message string) bool {
	stripped := nonMathRe.ReplaceAllString(message, "")
	return digitRe.MatchString(stripped) && operatorRe.MatchString(stripped)
}

// evalArithmetic strips everything but digits, operators, parens, dots and
// spaces, then evaluates the remainder with a real expression parser. Dynamic code
// execution is deliberately off the table here: the input is user-typed chat
// text.
func evalArithmetic(message string) (expression string, result string, err error) {
	expression = strings.TrimSpace(nonMathRe.ReplaceAllString(message, ""))
	if expression == "" {
		return "", "", fmt.Errorf("no expression in %q", message)
	}

	program, err := expr.Compile(expression)
	if err != nil {
		return expression, "", fmt.Errorf("compile expression: %w", err)
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return expression, "", fmt.Errorf("evaluate expression: %w", err)
	}

	switch v := out.(type) {
	case int:
		result = strconv.Itoa(v)
	case float64:
		result = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		result = fmt.Sprintf("%v", v)
	}
	return expression, result, nil
}

// resolveResponse returns text unchanged when it is substantive, otherwise a
// locally synthesized replacement. The returned string is never one of the
// known placeholder strings.
func resolveResponse(message, text string, p placeholderSet) string {
	if !isNonSubstantive(text, p) {
		return text
	}
	return generateFallback(message, p)
}

// generateFallback synthesizes a reply from the user message alone:
// arithmetic first, then a small set of pattern matches, then a generic
// acknowledgment.
func generateFallback(message string, p placeholderSet) string {
	if looksLikeArithmetic(message) {
		expression, result, err := evalArithmetic(message)
		if err != nil {
			slog.Error("arithmetic fallback failed", "error", err)
			return p.CalculationError
		}
		return fmt.Sprintf("%s\n\n\n%s = %s", p.CalculationLabel, expression, result)
	}

	// "<n> and" sequence completion
	if andSeqRe.MatchString(message) {
		rest := strings.TrimSpace(andSeqRe.ReplaceAllString(message, ""))
		if digitsRe.MatchString(rest) {
			if n, err := strconv.Atoi(rest); err == nil {
				return fmt.Sprintf(p.NextNumber, n, n+1)
			}
		}
	}

	switch {
	case greetingRe.MatchString(message):
		return p.Greeting
	case thanksRe.MatchString(message):
		return p.Thanks
	case abilitiesRe.MatchString(message):
		return p.Capabilities
	}

	return p.Acknowledgment
}
