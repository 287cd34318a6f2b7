package patient

import (
	"time"

	"github.com/google/uuid"
)

// Patient carries demographic data plus the locally cached insurance policy
// status from the last Central System lookup.
type Patient struct {
	ID                   uuid.UUID  `json:"id"`
	MBO                  string     `json:"mbo"`
	FirstName            string     `json:"first_name"`
	LastName             string     `json:"last_name"`
	DateOfBirth          *time.Time `json:"date_of_birth,omitempty"`
	InsuranceActive      bool       `json:"insurance_active"`
	SupplementalCoverage bool       `json:"supplemental_coverage"`
	InsuranceCategory    string     `json:"insurance_category,omitempty"`
	InsuranceCheckedAt   *time.Time `json:"insurance_checked_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}
