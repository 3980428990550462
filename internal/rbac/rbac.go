package rbac

type Role string
type Action string

const (
	RoleViewer      Role = "viewer"
	RoleContributor Role = "contributor"
	RoleReviewer    Role = "reviewer"
	RoleValidator   Role = "validator"
	RoleAdmin       Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionSubmit   Action = "submit"
	ActionReview   Action = "review"
	ActionValidate Action = "validate"
	ActionVerify   Action = "verify"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleValidator:
		return action == ActionRead || action == ActionSubmit || action == ActionReview || action == ActionValidate || action == ActionVerify
	case RoleReviewer:
		return action == ActionRead || action == ActionSubmit || action == ActionReview || action == ActionVerify
	case RoleContributor:
		return action == ActionRead || action == ActionSubmit
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Elevated reports whether the role bypasses the actor-distinctness guards
// (self-review, two-person sign-off).
func Elevated(role Role) bool {
	return role == RoleAdmin
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleContributor, RoleReviewer, RoleValidator, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}
