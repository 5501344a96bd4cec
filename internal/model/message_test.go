package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name      string
		recipient *string
		group     *string
		wantErr   bool
	}{
		{"direct", strPtr("u-2"), nil, false},
		{"group", nil, strPtr("g-1"), false},
		{"both", strPtr("u-2"), strPtr("g-1"), true},
		{"neither", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message{SenderID: "u-1", RecipientID: tt.recipient, GroupID: tt.group}
			err := m.ValidateAddress()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrBadAddress)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeriveStatusLadder(t *testing.T) {
	now := time.Now()

	m := Message{}
	m.DeriveStatus()
	assert.Equal(t, StateSent, m.Status)

	m.DeliveredAt = &now
	m.DeriveStatus()
	assert.Equal(t, StateDelivered, m.Status)

	m.ReadAt = &now
	m.DeriveStatus()
	assert.Equal(t, StateRead, m.Status)

	// Deletion wins over everything else.
	m.DeletedAt = &now
	m.DeriveStatus()
	assert.Equal(t, StateDeleted, m.Status)
	assert.True(t, m.Deleted)
}

func TestTombstoneStripsContent(t *testing.T) {
	now := time.Now()
	m := Message{
		ID:        "m-1",
		Content:   "secret",
		DeletedAt: &now,
		Reactions: []Reaction{{UserID: "u-2", Emoji: "👍"}},
		Attachments: []Attachment{
			{ID: "a-1", FileName: "report.pdf"},
		},
	}
	m.Tombstone()

	assert.Empty(t, m.Content)
	assert.Nil(t, m.Reactions)
	assert.Nil(t, m.Attachments)
	assert.Equal(t, StateDeleted, m.Status)
	assert.Equal(t, "m-1", m.ID, "tombstone keeps its identity")
}

func TestTombstoneNoopWhenNotDeleted(t *testing.T) {
	m := Message{ID: "m-1", Content: "still here"}
	m.Tombstone()
	assert.Equal(t, "still here", m.Content)
}
