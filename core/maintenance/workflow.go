package maintenance

import "github.com/trezcool/nyumba/core/user"

// Actor sides of a request.
const (
	sideTenant   = "tenant"
	sideLandlord = "landlord"
)

type transition struct{ from, to string }

// transitions lists the allowed status moves and who may make them.
var transitions = map[transition]string{
	{StatusOpen, StatusInProgress}:     sideLandlord,
	{StatusInProgress, StatusResolved}: sideLandlord,
	{StatusOpen, StatusResolved}:       sideLandlord,
	{StatusResolved, StatusClosed}:     sideLandlord,
	{StatusResolved, StatusInProgress}: sideLandlord, // reopened
	{StatusOpen, StatusCancelled}:      sideTenant,
}

// side returns how the actor relates to the request; admins act as the landlord.
func side(actor user.User, r Request) string {
	switch {
	case actor.IsAdmin(), actor.ID == r.LandlordID:
		return sideLandlord
	case actor.ID == r.TenantID:
		return sideTenant
	}
	return ""
}

// CanTransition reports whether the actor may move the request to status `to`.
func CanTransition(actor user.User, r Request, to string) bool {
	allowed, ok := transitions[transition{r.Status, to}]
	if !ok {
		return false
	}
	s := side(actor, r)
	return s == allowed || (actor.IsAdmin() && s != "")
}

// IsValidTransition reports whether anybody may move a request from `from` to `to`.
func IsValidTransition(from, to string) bool {
	_, ok := transitions[transition{from, to}]
	return ok
}
