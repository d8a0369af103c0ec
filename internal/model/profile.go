package model

type Role string

const (
	RolePatient Role = "patient"
	RoleStaff   Role = "staff"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// Profile mirrors an identity from the auth provider; ID is the token subject.
type Profile struct {
	Base
	Email       string  `db:"email" json:"email"`
	FullName    string  `db:"full_name" json:"full_name"`
	Role        Role    `db:"role" json:"role"`
	Phone       *string `db:"phone" json:"phone,omitempty"`
	AvatarURL   *string `db:"avatar_url" json:"avatar_url,omitempty"`
	DateOfBirth *string `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Address     *string `db:"address" json:"address,omitempty"`
}

func (p *Profile) IsAdmin() bool { return p.Role == RoleAdmin }

type CreateProfileRequest struct {
	Email    string  `json:"email" binding:"required,email"`
	FullName string  `json:"full_name" binding:"required,max=200"`
	Phone    *string `json:"phone" binding:"omitempty,max=32"`
}

// UpdateProfileRequest has no role field; role changes are not self-service.
type UpdateProfileRequest struct {
	FullName    *string `json:"full_name" binding:"omitempty,min=1,max=200"`
	Phone       *string `json:"phone" binding:"omitempty,max=32"`
	AvatarURL   *string `json:"avatar_url" binding:"omitempty,url"`
	DateOfBirth *string `json:"date_of_birth" binding:"omitempty,isodate"`
	Address     *string `json:"address" binding:"omitempty,max=500"`
}

type ProfileFilters struct {
	Role Role `form:"role" binding:"omitempty,oneof=patient staff admin"`
}
