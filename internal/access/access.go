package access

type Level string
type Role string

const (
	LevelView    Level = "view"
	LevelComment Level = "comment"
	LevelEdit    Level = "edit"
	LevelAdmin   Level = "admin"
)

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleAdmin     Role = "admin"
)

var levelRank = map[Level]int{
	LevelView:    1,
	LevelComment: 2,
	LevelEdit:    3,
	LevelAdmin:   4,
}

func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// Allows reports whether a granted level satisfies a required one.
// Unknown levels never satisfy anything.
func Allows(granted, required Level) bool {
	g, ok := levelRank[granted]
	if !ok {
		return false
	}
	r, ok := levelRank[required]
	if !ok {
		return false
	}
	return g >= r
}

// LevelForRole maps a directory role to the access level it implies on
// documents owned by the caller's organization.
func LevelForRole(role Role) Level {
	switch role {
	case RoleAdmin:
		return LevelAdmin
	case RoleEditor:
		return LevelEdit
	case RoleCommenter:
		return LevelComment
	default:
		return LevelView
	}
}

func NormalizeRole(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

func NormalizeLevel(level string) Level {
	switch Level(level) {
	case LevelView, LevelComment, LevelEdit, LevelAdmin:
		return Level(level)
	default:
		return LevelView
	}
}
