package model

// NewAdminRequest carries the payload for owner-initiated admin creation.
// The remote authority provisions the business record and the initial
// subscription alongside the account.
type NewAdminRequest struct {
	FirstName       string `json:"first_name" binding:"required" validate:"required"`
	LastName        string `json:"last_name" binding:"required" validate:"required"`
	Email           string `json:"email" binding:"required,email" validate:"required,email"`
	Phone           string `json:"phone" binding:"required" validate:"required"`
	BusinessName    string `json:"business_name" binding:"required" validate:"required"`
	BusinessType    string `json:"business_type" binding:"required" validate:"required"`
	BusinessAddress string `json:"business_address" validate:"omitempty"`
	BusinessPhone   string `json:"business_phone" validate:"omitempty"`
	BusinessEmail   string `json:"business_email" binding:"omitempty,email" validate:"omitempty,email"`
}

// NewSubUserRequest carries the payload for admin-initiated sub-user
// creation. Credentials are generated, never supplied.
type NewSubUserRequest struct {
	FirstName string `json:"first_name" binding:"required" validate:"required"`
	LastName  string `json:"last_name" binding:"required" validate:"required"`
	Email     string `json:"email" binding:"omitempty,email" validate:"omitempty,email"`
	Phone     string `json:"phone" validate:"omitempty"`
}

// UpdateStatusRequest carries a status transition for an account.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active blocked suspended"`
	Reason string `json:"reason"`
}

// CreateAdminResponse is the remote authority's answer to create-admin:
// the provisioned account, business, subscription and generated credentials.
type CreateAdminResponse struct {
	User         *Account              `json:"user"`
	Business     *Business             `json:"business"`
	Subscription *Subscription         `json:"subscription"`
	Credentials  *GeneratedCredentials `json:"credentials"`
}

// UpdatePatch is a partial account update applied by the directory. Nil
// fields are left untouched.
type UpdatePatch struct {
	Email        *string
	FirstName    *string
	LastName     *string
	Phone        *string
	BusinessID   *string
	Subscription *Subscription
}
