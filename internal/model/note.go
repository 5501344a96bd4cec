package model

import "time"

type Note struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"companyId"`
	AuthorID  string    `json:"authorId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Pinned    bool      `json:"pinned"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateNoteRequest struct {
	Title string `json:"title" validate:"required,min=1,max=512"`
	Body  string `json:"body" validate:"max=100000"`
}

type UpdateNoteRequest struct {
	Title  *string `json:"title,omitempty" validate:"omitempty,min=1,max=512"`
	Body   *string `json:"body,omitempty" validate:"omitempty,max=100000"`
	Pinned *bool   `json:"pinned,omitempty"`
}
