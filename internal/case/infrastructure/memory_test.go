package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/integrity-line/platform/internal/case/domain"
	"github.com/integrity-line/platform/internal/shared/errors"
	"github.com/integrity-line/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertCase(t *testing.T, s *MemoryStore, year int, createdAt time.Time) *domain.Case {
	t.Helper()
	var c *domain.Case
	err := s.WithinTx(context.Background(), func(tx domain.Tx) error {
		number, err := tx.NextCaseNumber(context.Background(), year)
		if err != nil {
			return err
		}
		c = &domain.Case{
			ID:             types.NewID(),
			Number:         number,
			OrganizationID: "org-1",
			TypeID:         "billing",
			State:          domain.StateNew,
			Subject:        "Subject " + number.String(),
			Description:    "text",
			Country:        "RS",
			Channel:        domain.ChannelWeb,
			CreatedAt:      createdAt,
			UpdatedAt:      createdAt,
		}
		return tx.InsertCase(context.Background(), c)
	})
	require.NoError(t, err)
	return c
}

func TestNextCaseNumberIsPerYear(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()

	a := insertCase(t, s, 2025, now)
	b := insertCase(t, s, 2025, now)
	c := insertCase(t, s, 2026, now)

	assert.Equal(t, "2025-000001", a.Number.String())
	assert.Equal(t, "2025-000002", b.Number.String())
	assert.Equal(t, "2026-000001", c.Number.String())
}

func TestNextCaseNumberExhausted(t *testing.T) {
	s := NewMemoryStore()
	s.state.counters[2025] = types.MaxCaseSequence

	err := s.WithinTx(context.Background(), func(tx domain.Tx) error {
		_, err := tx.NextCaseNumber(context.Background(), 2025)
		return err
	})
	assert.ErrorIs(t, err, errors.ErrConflict)
}

func TestFailedTransactionLeavesNoTrace(t *testing.T) {
	s := NewMemoryStore()
	c := insertCase(t, s, 2025, time.Now())

	boom := errors.Conflict("boom")
	err := s.WithinTx(context.Background(), func(tx domain.Tx) error {
		locked, err := tx.LockCase(context.Background(), c.ID)
		if err != nil {
			return err
		}
		locked.State = domain.StateInProgress
		if err := tx.UpdateCase(context.Background(), locked); err != nil {
			return err
		}
		from := domain.StateNew
		if err := tx.AppendHistory(context.Background(), domain.HistoryEntry{
			ID: types.NewID(), CaseID: c.ID, FromState: &from, ToState: domain.StateInProgress,
		}); err != nil {
			return err
		}
		if _, err := tx.NextCaseNumber(context.Background(), 2025); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.FindByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateNew, got.State)

	history, err := s.History(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	next := insertCase(t, s, 2025, time.Now())
	assert.Equal(t, "2025-000002", next.Number.String(), "rolled back numbers are reused")
}

func TestUpdateCaseKeepsCredential(t *testing.T) {
	s := NewMemoryStore()
	c := insertCase(t, s, 2025, time.Now())
	require.NoError(t, s.WithinTx(context.Background(), func(tx domain.Tx) error {
		locked, _ := tx.LockCase(context.Background(), c.ID)
		locked.Credential.Hash = []byte("changed")
		locked.Subject = "changed"
		return tx.UpdateCase(context.Background(), locked)
	}))

	got, err := s.FindByID(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Credential.Hash)
	assert.NotEqual(t, "changed", got.Subject)
}

func TestFindByNumber(t *testing.T) {
	s := NewMemoryStore()
	c := insertCase(t, s, 2025, time.Now())

	got, err := s.FindByNumber(context.Background(), c.Number)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	missing, _ := types.NewCaseNumber(2025, 999)
	_, err = s.FindByNumber(context.Background(), missing)
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestListFiltersAndPages(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var cases []*domain.Case
	for i := 0; i < 5; i++ {
		cases = append(cases, insertCase(t, s, 2025, base.Add(time.Duration(i)*time.Hour)))
	}

	assignee := types.NewID()
	require.NoError(t, s.WithinTx(context.Background(), func(tx domain.Tx) error {
		return tx.SaveAssignment(context.Background(), domain.Assignment{
			CaseID: cases[3].ID, PrincipalID: assignee, AssignedBy: assignee, Active: true, AssignedAt: base,
		})
	}))

	all, total, err := s.List(context.Background(), domain.ListFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, all, 2)
	assert.Equal(t, cases[1].ID, all[0].ID)

	desc, _, err := s.List(context.Background(), domain.ListFilter{OrderDesc: true, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, cases[4].ID, desc[0].ID)

	mine, total, err := s.List(context.Background(), domain.ListFilter{AssignedTo: &assignee})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, cases[3].ID, mine[0].ID)

	found, total, err := s.List(context.Background(), domain.ListFilter{Search: "000005"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, cases[4].ID, found[0].ID)

	state := domain.StateClosed
	_, total, err = s.List(context.Background(), domain.ListFilter{State: &state})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestResolutionIsUnique(t *testing.T) {
	s := NewMemoryStore()
	c := insertCase(t, s, 2025, time.Now())
	r := domain.Resolution{CaseID: c.ID, Content: "refunded", ResolvedBy: types.NewID(), ResolvedAt: time.Now()}

	require.NoError(t, s.WithinTx(context.Background(), func(tx domain.Tx) error {
		return tx.RecordResolution(context.Background(), r)
	}))
	err := s.WithinTx(context.Background(), func(tx domain.Tx) error {
		return tx.RecordResolution(context.Background(), r)
	})
	assert.ErrorIs(t, err, errors.ErrConflict)

	_, err = s.Resolution(context.Background(), types.NewID())
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestSaveAssignmentUpserts(t *testing.T) {
	s := NewMemoryStore()
	c := insertCase(t, s, 2025, time.Now())
	p := types.NewID()

	for _, active := range []bool{true, false, true} {
		require.NoError(t, s.WithinTx(context.Background(), func(tx domain.Tx) error {
			return tx.SaveAssignment(context.Background(), domain.Assignment{
				CaseID: c.ID, PrincipalID: p, AssignedBy: p, Active: active, AssignedAt: time.Now(),
			})
		}))
	}

	rows, err := s.Assignments(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Active)
}

func TestWritesRequireExistingCase(t *testing.T) {
	s := NewMemoryStore()
	err := s.WithinTx(context.Background(), func(tx domain.Tx) error {
		return tx.InsertComment(context.Background(), domain.Comment{ID: types.NewID(), CaseID: types.NewID()})
	})
	assert.ErrorIs(t, err, errors.ErrValidation)
}
