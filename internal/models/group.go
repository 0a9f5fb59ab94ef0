package models

// Group represents a set of members who split receipts together.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// Name is the display name of the group (e.g., "Roommates", "Ski Trip").
	Name string

	// Description is an optional free-text description.
	Description string

	// CreatedBy is the user ID of the group creator.
	// Only the creator may delete the group or remove other members.
	CreatedBy string

	// CreatedAt is the Unix timestamp when the group was created.
	CreatedAt int64
}

// Member represents a participant in a group.
// A member may be a placeholder (no UserID) until the person registers.
type Member struct {
	// ID is the unique identifier for the member (UUID format).
	ID string

	// GroupID is the group this member belongs to.
	GroupID string

	// UserID links the member to a registered account. Empty for placeholders.
	UserID string

	// DisplayName is the name shown for this member within the group.
	DisplayName string

	// IsPayer marks the member assumed to have fronted the money for
	// receipts that do not name an explicit payer.
	// Exactly one member per group should carry this flag.
	IsPayer bool

	// JoinedAt is the Unix timestamp when the member joined the group.
	JoinedAt int64
}

// FindMember returns the member with the given ID from the roster.
func FindMember(roster []Member, memberID string) (Member, bool) {
	for _, m := range roster {
		if m.ID == memberID {
			return m, true
		}
	}
	return Member{}, false
}
