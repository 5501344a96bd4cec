package model

import "time"

type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Department struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is a directory entry. Account provisioning and credentials live
// in the identity service; this side only reads.
type User struct {
	ID           string     `json:"id"`
	CompanyID    string     `json:"companyId"`
	DepartmentID *string    `json:"departmentId,omitempty"`
	Email        string     `json:"email"`
	Name         string     `json:"name"`
	Role         string     `json:"role"`
	Skills       []string   `json:"skills"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastSeen     *time.Time `json:"lastSeen,omitempty"`
	Online       bool       `json:"online,omitempty"`
}
