package allocator

import "gameRoster/internal/model"

// HasRoom reports whether a role with confirmed members under limit can take one more.
func HasRoom(confirmed, limit int) bool {
	return confirmed < limit
}

// StatusFor is the status a newcomer to role receives against roster.
func StatusFor(roster model.Roster, role model.Role, limit int) model.Status {
	if HasRoom(roster.ConfirmedCount(role), limit) {
		return model.StatusConfirmed
	}
	return model.StatusWaiting
}
