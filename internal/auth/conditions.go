package auth

import (
	"fmt"
	"time"
)

// Condition kinds understood by the resolver. Unknown kinds fail closed.
const (
	ConditionBusinessHours = "business_hours"
	ConditionOrganization  = "organization"
)

// Condition constrains when a role's permissions apply. A failed condition
// denies even when the permission string itself is present.
type Condition struct {
	Kind string `json:"kind"`

	// business_hours: inclusive start, exclusive end, UTC hours [0,24).
	StartHour int `json:"start_hour,omitempty"`
	EndHour   int `json:"end_hour,omitempty"`

	// organization: the user must belong to this organization.
	OrganizationID string `json:"organization_id,omitempty"`
}

// Validate rejects unknown or malformed conditions at the boundary.
func (c Condition) Validate() error {
	switch c.Kind {
	case ConditionBusinessHours:
		if c.StartHour < 0 || c.StartHour > 23 || c.EndHour < 1 || c.EndHour > 24 || c.StartHour >= c.EndHour {
			return fmt.Errorf("%w: business_hours window %d-%d", ErrInvalidInput, c.StartHour, c.EndHour)
		}
		return nil
	case ConditionOrganization:
		if c.OrganizationID == "" {
			return fmt.Errorf("%w: organization condition requires organization_id", ErrInvalidInput)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown condition kind %q", ErrInvalidInput, c.Kind)
	}
}

// Evaluate reports whether the condition holds for the user at the given
// instant. Unknown kinds evaluate to false.
func (c Condition) Evaluate(user *User, now time.Time) bool {
	switch c.Kind {
	case ConditionBusinessHours:
		h := now.UTC().Hour()
		return h >= c.StartHour && h < c.EndHour
	case ConditionOrganization:
		return user != nil && user.OrganizationID == c.OrganizationID
	default:
		return false
	}
}
