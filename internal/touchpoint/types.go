// Package touchpoint defines the touchpoint taxonomy, input validation, and
// the executor contract the run engine invokes.
package touchpoint

// Type identifies a touchpoint kind.
type Type string

// Supported touchpoint types.
const (
	TypeProfileEnrich Type = "profile_enrich"
	TypeProfileVisit  Type = "profile_visit"
	TypeConnect       Type = "connect"
	TypeDirectMessage Type = "direct_message"
	TypePostReact     Type = "post_react"
	TypePostComment   Type = "post_comment"
	TypeInMail        Type = "inmail"
)

// Category groups touchpoint types for quota accounting.
type Category string

// Quota categories. Reads (visits, enrichments) are uncategorized and uncapped.
const (
	CategoryConnect Category = "connect"
	CategoryMessage Category = "message"
	CategoryPost    Category = "post"
	CategoryNone    Category = ""
)

// AllTypes lists every supported touchpoint type.
func AllTypes() []Type {
	return []Type{
		TypeProfileEnrich,
		TypeProfileVisit,
		TypeConnect,
		TypeDirectMessage,
		TypePostReact,
		TypePostComment,
		TypeInMail,
	}
}

// Valid reports whether t is a known touchpoint type.
func (t Type) Valid() bool {
	switch t {
	case TypeProfileEnrich, TypeProfileVisit, TypeConnect, TypeDirectMessage,
		TypePostReact, TypePostComment, TypeInMail:
		return true
	}
	return false
}

// QuotaCategory maps a touchpoint type to its quota category.
func (t Type) QuotaCategory() Category {
	switch t {
	case TypeConnect:
		return CategoryConnect
	case TypeDirectMessage, TypeInMail:
		return CategoryMessage
	case TypePostReact, TypePostComment:
		return CategoryPost
	default:
		return CategoryNone
	}
}
