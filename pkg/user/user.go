package user

// User is the owner of calendar events. FamilyId is the household the user
// belongs to; events are always written with both.
type User struct {
	Id       string
	FamilyId string
}
