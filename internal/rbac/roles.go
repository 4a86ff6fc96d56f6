package rbac

// Role names. Keep these stable; they are part of token contracts.
const (
	RoleRequester   = "requester"
	RoleCounterpart = "counterpart"
	RoleAdmin       = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// IsParticipant reports whether role can hold a presence channel.
func IsParticipant(role string) bool {
	return role == RoleRequester || role == RoleCounterpart
}
