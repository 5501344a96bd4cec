package service

import (
	"context"

	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/model"
	"github.com/Sylester-Oputa/CollabNotes-sub002/internal/rbac"

	"github.com/google/uuid"
)

type NoteStore interface {
	Insert(ctx context.Context, n *model.Note) error
	GetByID(ctx context.Context, id string) (*model.Note, error)
	List(ctx context.Context, companyID, authorID string, limit, offset int) ([]*model.Note, error)
	Update(ctx context.Context, id string, req *model.UpdateNoteRequest) (*model.Note, error)
	Delete(ctx context.Context, id string) (bool, error)
}

// NoteService is plain tenant-scoped CRUD. Notes are readable by the
// whole company; only the author or an admin may change or remove one.
type NoteService struct {
	notes NoteStore
}

func NewNoteService(notes NoteStore) *NoteService {
	return &NoteService{notes: notes}
}

func (s *NoteService) Create(ctx context.Context, companyID, authorID string, req *model.CreateNoteRequest) (*model.Note, error) {
	n := &model.Note{
		ID:        uuid.NewString(),
		CompanyID: companyID,
		AuthorID:  authorID,
		Title:     req.Title,
		Body:      req.Body,
	}
	if err := s.notes.Insert(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *NoteService) Get(ctx context.Context, companyID, noteID string) (*model.Note, error) {
	n, err := s.notes.GetByID(ctx, noteID)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if n.CompanyID != companyID {
		return nil, ErrNotFound
	}
	return n, nil
}

func (s *NoteService) List(ctx context.Context, companyID, authorID string, limit, offset int) ([]*model.Note, error) {
	return s.notes.List(ctx, companyID, authorID, limit, offset)
}

func (s *NoteService) Update(ctx context.Context, companyID, requesterID string, role rbac.Role, noteID string, req *model.UpdateNoteRequest) (*model.Note, error) {
	n, err := s.Get(ctx, companyID, noteID)
	if err != nil {
		return nil, err
	}
	if n.AuthorID != requesterID && !rbac.Can(role, rbac.ActionManageAnyNote) {
		return nil, ErrForbidden
	}
	return s.notes.Update(ctx, noteID, req)
}

func (s *NoteService) Delete(ctx context.Context, companyID, requesterID string, role rbac.Role, noteID string) error {
	n, err := s.Get(ctx, companyID, noteID)
	if err != nil {
		return err
	}
	if n.AuthorID != requesterID && !rbac.Can(role, rbac.ActionManageAnyNote) {
		return ErrForbidden
	}

	deleted, err := s.notes.Delete(ctx, noteID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}
