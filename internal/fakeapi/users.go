package fakeapi

import (
	"time"

	"github.com/jmcleod/ironsession/session"
)

// DemoTOTPSecret is the base32 TOTP secret of the demo two factor account.
const DemoTOTPSecret = "JBSWY3DPEHPK3PXP"

// Account is a backend user with its password and optional TOTP secret.
type Account struct {
	User       session.User
	Password   string
	TOTPSecret string
}

var demoCreated = time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC)

// DemoAccounts are the accounts a new API starts with.
func DemoAccounts() []Account {
	return []Account{
		{
			User:     demoUser("1", "admin@example.com", "Admin User", session.RoleAdmin),
			Password: "admin123",
		},
		{
			User:     demoUser("2", "dc@jk.com", "Door Collector", session.RoleCollector),
			Password: "dc@123",
		},
		{
			User:     demoUser("3", "municipleofficer@example.com", "Municipal Officer", session.RoleMunicipalOfficer),
			Password: "mc@123",
		},
		{
			User:       twoFactor(demoUser("4", "super@example.com", "Super Admin", session.RoleSuperAdmin)),
			Password:   "super123",
			TOTPSecret: DemoTOTPSecret,
		},
	}
}

func twoFactor(u session.User) session.User {
	u.TwoFactorEnabled = true
	return u
}

func demoUser(id, email, name, role string) session.User {
	return session.User{
		ID:               id,
		Email:            email,
		FullName:         name,
		Role:             role,
		TwoFactorEnabled: false,
		CreatedAt:        demoCreated,
		UpdatedAt:        demoCreated,
	}
}
