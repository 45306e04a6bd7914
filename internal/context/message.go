package context

// Role tags the originator of a Turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message exchanged in a conversation. Turns are values and are
// never mutated after creation.
type Turn struct {
	Role    Role
	Content string
}

// UserTurn builds a Turn originated by the user.
func UserTurn(content string) Turn {
	return Turn{Role: RoleUser, Content: content}
}

// AssistantTurn builds a Turn originated by the model.
func AssistantTurn(content string) Turn {
	return Turn{Role: RoleAssistant, Content: content}
}
