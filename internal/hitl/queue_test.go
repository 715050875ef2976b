package hitl

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestModeOrdering(t *testing.T) {
	if !(ModeInform < ModeDraft && ModeDraft < ModeEscalate) {
		t.Fatal("modes must order INFORM < DRAFT < ESCALATE")
	}
	if Max(ModeEscalate, ModeDraft) != ModeEscalate {
		t.Error("Max must never lower a mode")
	}
	if Max(ModeInform, ModeDraft) != ModeDraft {
		t.Error("Max must raise INFORM to DRAFT")
	}
}

func TestParseMode_RoundTripAndUnknown(t *testing.T) {
	for _, m := range []Mode{ModeInform, ModeDraft, ModeEscalate} {
		if got := ParseMode(m.String()); got != m {
			t.Errorf("ParseMode(%q) = %v, want %v", m.String(), got, m)
		}
	}
	if got := ParseMode("BLOCK"); got != ModeInform {
		t.Errorf("unknown mode should floor to INFORM, got %v", got)
	}
}

type fakeApprovalStore struct {
	approvals map[string]*Approval
	inserted  []*Approval
	insertErr error
}

func newFakeApprovalStore() *fakeApprovalStore {
	return &fakeApprovalStore{approvals: make(map[string]*Approval)}
}

func (s *fakeApprovalStore) InsertApproval(_ context.Context, a *Approval) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, a)
	s.approvals[a.ID] = a
	return nil
}

func (s *fakeApprovalStore) GetApproval(_ context.Context, id string) (*Approval, error) {
	return s.approvals[id], nil
}

func (s *fakeApprovalStore) ResolveApproval(_ context.Context, id, status, reviewer, note string) (*Approval, error) {
	a, ok := s.approvals[id]
	if !ok || a.Status != StatusPending {
		return nil, ErrNotPending
	}
	now := time.Now()
	a.Status = status
	a.Reviewer = reviewer
	a.ReviewNote = note
	a.ResolvedAt = &now
	return a, nil
}

func (s *fakeApprovalStore) ListApprovals(_ context.Context, status string, limit int) ([]*Approval, error) {
	var out []*Approval
	for _, a := range s.approvals {
		if status == "" || a.Status == status {
			out = append(out, a)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestCreateApproval_SLADeadlineByPriority(t *testing.T) {
	tests := []struct {
		priority Priority
		window   time.Duration
	}{
		{PriorityHigh, 4 * time.Hour},
		{PriorityMedium, 24 * time.Hour},
		{PriorityLow, 72 * time.Hour},
		{Priority("unknown"), 72 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(string(tt.priority), func(t *testing.T) {
			store := newFakeApprovalStore()
			q := NewQueue(store, zap.NewNop())

			a, err := q.CreateApproval(context.Background(), CreateParams{
				SessionID:     "s1",
				Mode:          ModeDraft,
				Priority:      tt.priority,
				OriginalQuery: "draft the memo",
			})
			if err != nil {
				t.Fatalf("CreateApproval: %v", err)
			}
			if a.Status != StatusPending {
				t.Errorf("new approval should be pending, got %q", a.Status)
			}
			if a.ID == "" {
				t.Error("approval needs an id")
			}
			want := time.Now().Add(tt.window)
			if diff := a.SLADeadline.Sub(want); diff < -time.Minute || diff > time.Minute {
				t.Errorf("SLA deadline off by %v for priority %s", diff, tt.priority)
			}
		})
	}
}

func TestCreateApproval_StoreFailureSurfaces(t *testing.T) {
	store := newFakeApprovalStore()
	store.insertErr = errors.New("connection refused")
	q := NewQueue(store, zap.NewNop())

	if _, err := q.CreateApproval(context.Background(), CreateParams{Priority: PriorityHigh}); err == nil {
		t.Fatal("insert failure must surface to the caller")
	}
}

func TestApprove_ResolvesPendingOnce(t *testing.T) {
	store := newFakeApprovalStore()
	q := NewQueue(store, zap.NewNop())

	a, err := q.CreateApproval(context.Background(), CreateParams{
		SessionID:        "s1",
		Mode:             ModeDraft,
		Priority:         PriorityMedium,
		ProposedResponse: "proposed text",
	})
	if err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	resolved, err := q.Approve(context.Background(), a.ID, "alice", "looks fine")
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if resolved.Status != StatusApproved || resolved.Reviewer != "alice" {
		t.Errorf("unexpected resolution: %+v", resolved)
	}
	if resolved.ResolvedAt == nil {
		t.Error("resolution must stamp ResolvedAt")
	}

	// Second resolution of the same item must fail.
	if _, err := q.Reject(context.Background(), a.ID, "bob", ""); !errors.Is(err, ErrNotPending) {
		t.Errorf("resolving a resolved approval should be ErrNotPending, got %v", err)
	}
}

func TestReject_SetsStatusAndNote(t *testing.T) {
	store := newFakeApprovalStore()
	q := NewQueue(store, zap.NewNop())

	a, err := q.CreateApproval(context.Background(), CreateParams{
		Mode:             ModeEscalate,
		Priority:         PriorityHigh,
		EscalationReason: "prohibited topic",
	})
	if err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	resolved, err := q.Reject(context.Background(), a.ID, "carol", "out of scope")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if resolved.Status != StatusRejected || resolved.ReviewNote != "out of scope" {
		t.Errorf("unexpected resolution: %+v", resolved)
	}
}

func TestResolve_UnknownIDIsNotFound(t *testing.T) {
	q := NewQueue(newFakeApprovalStore(), zap.NewNop())

	if _, err := q.Approve(context.Background(), "no-such-id", "alice", ""); !errors.Is(err, ErrApprovalNotFound) {
		t.Errorf("expected ErrApprovalNotFound, got %v", err)
	}
}
