package user

import (
	"time"

	"github.com/google/uuid"
)

// User owns instances. Trial windows are tracked at day granularity.
type User struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Email      string    `json:"email" db:"email"`
	Document   string    `json:"document" db:"document"`
	Password   string    `json:"-" db:"password"`
	IsTrial    bool      `json:"isTrial" db:"isTrial"`
	IsAdmin    bool      `json:"isAdmin" db:"isAdmin"`
	TrialStart time.Time `json:"trialStart" db:"trialStart"`
	TrialEnd   time.Time `json:"trialEnd" db:"trialEnd"`
	CreatedAt  time.Time `json:"createdAt" db:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updatedAt"`
}

const DefaultTrialDays = 7

func New(name, email, document, hashedPassword string) *User {
	now := time.Now()
	start := now.Truncate(24 * time.Hour)
	return &User{
		ID:         uuid.New(),
		Name:       name,
		Email:      email,
		Document:   document,
		Password:   hashedPassword,
		IsTrial:    true,
		TrialStart: start,
		TrialEnd:   start.AddDate(0, 0, DefaultTrialDays),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TrialExpired reports whether trial enforcement applies to this user right
// now. Admins are always exempt.
func (u *User) TrialExpired(now time.Time) bool {
	if u.IsAdmin || !u.IsTrial {
		return false
	}
	return !u.TrialEnd.After(now)
}
