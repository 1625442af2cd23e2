package bpt

import (
	"fmt"
	"strings"

	spdxcommon "github.com/spdx/tools-golang/spdx/v2/common"
)

// ValidateSPDXExpression parses expr as an SPDX license expression
// (spec.md §7 lists "invalid SPDX expression" as a user-input error
// kind) and reports a descriptive error if it is malformed.
//
// tools-golang (v0.5.7, vendored by the teacher's go.mod) ships document
// and common-value types but no expression evaluator, so the grammar
// itself — license-id ( ( AND | OR ) license-id )* with optional "WITH
// exception-id" — is hand-parsed here. The two whole-expression special
// values it does define, spdxcommon.NONE and spdxcommon.NOASSERTION, are
// accepted verbatim per the SPDX license-expression grammar.
func ValidateSPDXExpression(expr string) error {
	switch spdxcommon.SpecialValue(expr) {
	case spdxcommon.NONE, spdxcommon.NOASSERTION:
		return nil
	}
	toks := tokenizeSPDX(expr)
	if len(toks) == 0 {
		return fmt.Errorf("empty SPDX license expression")
	}
	p := &spdxExprParser{toks: toks}
	if err := p.parseExpr(); err != nil {
		return err
	}
	if p.pos != len(p.toks) {
		return fmt.Errorf("invalid SPDX license expression %q: trailing tokens after %q", expr, p.toks[p.pos])
	}
	return nil
}

// ParsedSPDXLicenses returns the leaf license/exception identifiers of a
// validated expression, in the order they appear.
func ParsedSPDXLicenses(expr string) ([]string, error) {
	if err := ValidateSPDXExpression(expr); err != nil {
		return nil, err
	}
	var out []string
	for _, t := range tokenizeSPDX(expr) {
		switch strings.ToUpper(t) {
		case "AND", "OR", "WITH", "(", ")", "+":
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func tokenizeSPDX(expr string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range expr {
		switch {
		case r == '(' || r == ')':
			flush()
			toks = append(toks, string(r))
		case r == ' ' || r == '\t' || r == '\n':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return toks
}

type spdxExprParser struct {
	toks []string
	pos  int
}

func (p *spdxExprParser) peek() string {
	if p.pos >= len(p.toks) {
		return ""
	}
	return p.toks[p.pos]
}

func (p *spdxExprParser) parseExpr() error {
	if err := p.parseTerm(); err != nil {
		return err
	}
	for {
		switch strings.ToUpper(p.peek()) {
		case "AND", "OR":
			p.pos++
			if err := p.parseTerm(); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (p *spdxExprParser) parseTerm() error {
	if p.peek() == "(" {
		p.pos++
		if err := p.parseExpr(); err != nil {
			return err
		}
		if p.peek() != ")" {
			return fmt.Errorf("invalid SPDX license expression: expected ')'")
		}
		p.pos++
		return nil
	}
	id := p.peek()
	if id == "" || id == ")" || isSPDXOperator(id) {
		return fmt.Errorf("invalid SPDX license expression: expected a license id, got %q", id)
	}
	if err := validateLicenseID(id); err != nil {
		return err
	}
	p.pos++
	if p.peek() == "+" {
		p.pos++
	}
	if strings.ToUpper(p.peek()) == "WITH" {
		p.pos++
		exc := p.peek()
		if exc == "" || isSPDXOperator(exc) {
			return fmt.Errorf("invalid SPDX license expression: expected an exception id after WITH")
		}
		p.pos++
	}
	return nil
}

func isSPDXOperator(t string) bool {
	switch strings.ToUpper(t) {
	case "AND", "OR", "WITH", "(", ")":
		return true
	default:
		return false
	}
}

// validateLicenseID checks id against the SPDX license-id character
// grammar (letters, digits, '.', '-'), including the "LicenseRef-" and
// "DocumentRef-...:LicenseRef-" custom-license prefixes.
func validateLicenseID(id string) error {
	body := id
	if strings.HasPrefix(id, "DocumentRef-") {
		parts := strings.SplitN(id, ":", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[1], "LicenseRef-") {
			return fmt.Errorf("invalid SPDX license id %q", id)
		}
		body = parts[1]
	}
	for _, r := range body {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
		default:
			return fmt.Errorf("invalid SPDX license id %q: disallowed character %q", id, r)
		}
	}
	return nil
}
