package rbac

type Role string
type Action string

const (
	RoleMember  Role = "member"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

const (
	ActionSendMessage      Action = "message:send"
	ActionDeleteAnyMessage Action = "message:deleteAny"
	ActionCreateGroup      Action = "group:create"
	ActionManageAnyGroup   Action = "group:manageAny"
	ActionCreateTask       Action = "task:create"
	ActionManageTasks      Action = "task:manage"
	ActionManageRules      Action = "rule:manage"
	ActionManageAnyRule    Action = "rule:manageAny"
	ActionCreateNote       Action = "note:create"
	ActionManageAnyNote    Action = "note:manageAny"
	ActionViewCompanyUsers Action = "user:list"
)

// Can is the whole permission model: a closed role set against a closed
// action set. There is no permission table to query or cache.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleManager:
		return action == ActionSendMessage ||
			action == ActionCreateGroup ||
			action == ActionCreateTask ||
			action == ActionManageTasks ||
			action == ActionManageRules ||
			action == ActionCreateNote ||
			action == ActionViewCompanyUsers
	case RoleMember:
		return action == ActionSendMessage ||
			action == ActionCreateGroup ||
			action == ActionCreateTask ||
			action == ActionCreateNote ||
			action == ActionViewCompanyUsers
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleMember, RoleManager, RoleAdmin:
		return Role(role)
	default:
		return RoleMember
	}
}
