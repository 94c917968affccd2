// Package enum holds the string values shared by the schema CHECK
// constraints, configuration and tokens.
package enum

// Staff roles. Students never get a role; they pay by phone.
const (
	RoleITAdmin   = "IT_ADMIN"
	RoleManager   = "MANAGER"
	RoleChef      = "CHEF"
	RoleAttendant = "ATTENDANT"
)

// ValidRole reports whether role is one the staff table accepts.
func ValidRole(role string) bool {
	switch role {
	case RoleITAdmin, RoleManager, RoleChef, RoleAttendant:
		return true
	}
	return false
}

// Seeded meal period names. Menus reference periods by name.
const (
	MealBreakfast = "breakfast"
	MealLunch     = "lunch"
	MealSupper    = "supper"
)

// Daraja environments.
const (
	MpesaSandbox    = "sandbox"
	MpesaProduction = "production"
)
