// Package symbols canonicalizes instrument identifiers and decides whether a
// streamed quote belongs to a position. Upstream feeds use several formats
// for the same instrument ("MES", "MESZ25", "F.US.MES", "CON.F.US.MES.H25"),
// so the canonical form is the join key between quotes and positions.
package symbols

import (
	"regexp"
	"strings"

	"futures_watch/internal/models"
)

// monthCodeRe splits a sanitized symbol into an alphabetic base and a
// trailing futures month/year code (month letter + 1-2 digit year).
var monthCodeRe = regexp.MustCompile(`^([A-Z]+?)([FGHJKMNQUVXZ][0-9]{1,2})$`)

// Normalize canonicalizes a raw instrument identifier.
//
// Dotted vendor forms like "F.US.MES" yield the trailing segment; full
// contract ids like "CON.F.US.MES.H25" yield the 4th segment. Anything else
// falls back to the trimmed, uppercased raw string.
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if strings.Contains(s, ".") {
		parts := strings.Split(s, ".")
		if len(parts) >= 5 {
			// CON.F.US.MES.H25 -> MES
			return parts[3]
		}
		// F.US.MES -> MES
		return parts[len(parts)-1]
	}
	return s
}

// Matches reports whether a quote for quoteSym should be applied to a
// position carrying posSym. Contract-aware matching, when both sides resolve
// in the registry, is authoritative and overrides the heuristics below.
func Matches(quoteSym, posSym string, contracts map[string]models.Contract) bool {
	q := Normalize(quoteSym)
	p := Normalize(posSym)
	if q == "" || p == "" {
		return false
	}
	if strings.EqualFold(q, p) {
		return true
	}

	if len(contracts) > 0 {
		qc, qok := resolve(q, contracts)
		pc, pok := resolve(p, contracts)
		if qok && pok {
			if qc.ID != "" && qc.ID == pc.ID {
				return true
			}
			return qc.Symbol == pc.Symbol && qc.Expiry == pc.Expiry
		}
	}

	qs := sanitize(q)
	ps := sanitize(p)
	if qs == ps {
		return true
	}

	qBase, qCode := splitMonthCode(qs)
	pBase, pCode := splitMonthCode(ps)
	if qBase != pBase {
		return false
	}
	// Same base with two explicit expiries: they must agree, otherwise a
	// MESZ25 quote would contaminate a MESH25 position.
	if qCode != "" && pCode != "" {
		return qCode == pCode
	}
	// One side is a bare root symbol; best-effort match.
	return true
}

// resolve looks a symbol up in the contract registry by its common aliases.
func resolve(sym string, contracts map[string]models.Contract) (models.Contract, bool) {
	if c, ok := contracts[sym]; ok {
		return c, true
	}
	if c, ok := contracts[sanitize(sym)]; ok {
		return c, true
	}
	return models.Contract{}, false
}

// sanitize reduces a symbol to uppercase alphanumerics.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// splitMonthCode separates "MESZ25" into ("MES", "Z25"). Symbols without a
// trailing month/year code come back with an empty code.
func splitMonthCode(s string) (base, code string) {
	m := monthCodeRe.FindStringSubmatch(s)
	if m == nil {
		return s, ""
	}
	return m[1], m[2]
}
