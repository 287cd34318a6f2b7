// Package compliance holds the stateless rule checks run before mutating
// operations. Guards never touch storage; callers load the facts first.
package compliance

import (
	"fmt"
	"time"

	"github.com/ehr/clinicbridge/internal/platform/apperr"
)

// RestrictedCategory is the consultative referral category. Nothing may be
// derived from it and no therapy may be recommended against it.
const RestrictedCategory = "A1"

// Rule codes reported on denial.
const (
	RuleCategoryRestriction = "category_restriction"
	RuleInsuranceInactive   = "insurance_inactive"
	RuleOwnershipHeld       = "ownership_held"
	RuleFindingSigned       = "finding_signed"
	RuleFindingUnsigned     = "finding_unsigned"
	RuleAppointmentSigned   = "appointment_finding_signed"
	RuleStornoAgeWindow     = "storno_age_window"
	RuleStornoUnsent        = "storno_unsent_document"
)

// Decision is the outcome of a guard.
type Decision struct {
	Allowed bool
	Rule    string
	Reason  string
	kind    apperr.Kind
}

var allow = Decision{Allowed: true}

func deny(kind apperr.Kind, rule, format string, args ...any) Decision {
	return Decision{Rule: rule, Reason: fmt.Sprintf(format, args...), kind: kind}
}

// Err returns nil when allowed, otherwise the typed error for the denial.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &apperr.Error{Kind: d.kind, Rule: d.Rule, Message: d.Reason}
}

// CanDeriveReferral checks whether a new referral may be created against a
// parent of the given category.
func CanDeriveReferral(parentCategory string) Decision {
	if parentCategory == RestrictedCategory {
		return deny(apperr.KindPolicyViolation, RuleCategoryRestriction,
			"referrals of category %s do not allow derived referrals", RestrictedCategory)
	}
	return allow
}

// CanRecommendTherapy checks the referral category snapshotted on the
// appointment.
func CanRecommendTherapy(category string) Decision {
	if category == RestrictedCategory {
		return deny(apperr.KindPolicyViolation, RuleCategoryRestriction,
			"therapy recommendations are not allowed for category %s referrals", RestrictedCategory)
	}
	return allow
}

// CanBook requires a freshly checked, active insurance policy.
func CanBook(mbo string, insuranceActive bool) Decision {
	if !insuranceActive {
		return deny(apperr.KindPolicyViolation, RuleInsuranceInactive,
			"insurance policy for %s is not active", mbo)
	}
	return allow
}

// CanTakeOver allows a takeover only while nobody holds the referral.
func CanTakeOver(owned bool, holder string) Decision {
	if owned {
		return deny(apperr.KindConflict, RuleOwnershipHeld, "referral is already taken over by %s", holder)
	}
	return allow
}

// CanUpsertFinding rejects edits to a signed finding.
func CanUpsertFinding(signed bool) Decision {
	if signed {
		return deny(apperr.KindPolicyViolation, RuleFindingSigned,
			"a signed finding already exists for this appointment, storno it first")
	}
	return allow
}

// CanCancelAppointment rejects cancelling an appointment whose finding is signed.
func CanCancelAppointment(findingSigned bool) Decision {
	if findingSigned {
		return deny(apperr.KindPolicyViolation, RuleAppointmentSigned,
			"appointment has a signed finding and cannot be cancelled")
	}
	return allow
}

// CanBillAppointment requires a signed finding.
func CanBillAppointment(findingSigned bool) Decision {
	if !findingSigned {
		return deny(apperr.KindUnsignedDependency, RuleFindingUnsigned,
			"appointment finding is not signed, unsigned work cannot be billed")
	}
	return allow
}

// CanReverse enforces the storno age window. maxAge is inclusive.
func CanReverse(documentType string, age, maxAge time.Duration) Decision {
	if age > maxAge {
		return deny(apperr.KindPolicyViolation, RuleStornoAgeWindow,
			"%s is %s old, storno is only allowed within %s", documentType, age.Round(time.Minute), maxAge)
	}
	return allow
}

// CanReverseTransmitted requires the document to have been acknowledged by the
// Central System, which for reports also means signed.
func CanReverseTransmitted(documentType, externalID string) Decision {
	if externalID == "" {
		return deny(apperr.KindUnsignedDependency, RuleStornoUnsent,
			"%s has not been sent to the central system, nothing to reverse", documentType)
	}
	return allow
}
