// Package posting turns promoted items into downstream entities exactly once
// per tenant and posting key.
package posting

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/mmdatafocus/books_imports/utils"
	"github.com/shopspring/decimal"
)

// ComputePostingKey hashes the tenant, the batch source type, the entity type
// and the sorted normalized identifying fields. Two candidates that differ only
// in accents, case, spacing or decimal formatting get the same key.
func ComputePostingKey(tenantID, sourceType, entityType string, fields map[string]string) string {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(tenantID))
	b.WriteByte('\x1f')
	b.WriteString(NormalizeValue(sourceType))
	b.WriteByte('\x1f')
	b.WriteString(NormalizeValue(entityType))
	for _, k := range names {
		v := NormalizeField(k, fields[k])
		if v == "" {
			continue
		}
		b.WriteByte('\x1e')
		b.WriteString(strings.ToLower(strings.TrimSpace(k)))
		b.WriteByte('=')
		b.WriteString(v)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// amountFields are compared as numbers. Every other field, including
// digit-only identifiers such as "007", is compared as text.
var amountFields = map[string]bool{
	"amount": true,
	"total":  true,
}

// NormalizeField normalizes one identifying field. Amounts are rewritten in
// canonical decimal form ("1500.00" -> "1500").
func NormalizeField(name, v string) string {
	v = NormalizeValue(v)
	if v == "" || !amountFields[strings.ToLower(strings.TrimSpace(name))] {
		return v
	}
	if looksDecimal(v) {
		if d, err := decimal.NewFromString(v); err == nil {
			return d.String()
		}
	}
	return v
}

// NormalizeValue folds accents, collapses whitespace and upper-cases.
func NormalizeValue(v string) string {
	v = utils.CollapseSpaces(utils.FoldAccents(v))
	if v == "" {
		return ""
	}
	return strings.ToUpper(v)
}

func looksDecimal(v string) bool {
	digits := 0
	for i, r := range v {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.':
		case (r == '-' || r == '+') && i == 0:
		default:
			return false
		}
	}
	return digits > 0
}
