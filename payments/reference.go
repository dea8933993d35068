package payments

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Longest reference the provider accepts on a prompt.
const ReferenceMaxLen = 20

const referencePartLen = 6

// AccountReference builds the reconciliation reference binding a payment to
// (tenant, property, billing period): TENANT-PROPERTY-YYYYMM, uppercased
// and clipped to the provider's length limit. The same inputs always yield
// the same reference, so an operator can group a tenant's attempts for a
// property by eye.
func AccountReference(tenantId, propertyId string, period time.Time) (ref string, err error) {
	tenant := sanitizeReferencePart(tenantId)
	property := sanitizeReferencePart(propertyId)
	if tenant == "" || property == "" {
		return "", fmt.Errorf("%w: tenant and property ids are required", ErrInvalidArgument)
	}

	ref = fmt.Sprintf("%s-%s-%s", tenant, property, period.Format("200601"))
	return ref, nil
}

// sanitizeReferencePart uppercases, strips everything the provider would
// reject, and clips the part so the whole reference fits ReferenceMaxLen.
func sanitizeReferencePart(part string) (clean string) {
	var b strings.Builder
	for _, r := range part {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() >= referencePartLen {
			break
		}
	}
	return b.String()
}
