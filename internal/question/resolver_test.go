package question

import (
	"testing"

	"evalbank/internal/actor"
)

func area(id int64) *int64 { return &id }

func vote(voter int64, role actor.Role, areaID *int64, d Decision) Vote {
	return Vote{VoterID: voter, Role: role, AreaID: areaID, Decision: d}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name  string
		votes []Vote
		areas []int64
		want  State
	}{
		{
			name:  "no votes",
			areas: []int64{1},
			want:  StatePending,
		},
		{
			name: "admin approval beats rejection",
			votes: []Vote{
				vote(1, actor.RoleReviewer, area(1), DecisionReject),
				vote(2, actor.RoleAdmin, nil, DecisionApprove),
			},
			areas: []int64{1},
			want:  StateApproved,
		},
		{
			name: "admin approval without associations",
			votes: []Vote{
				vote(2, actor.RoleAdmin, nil, DecisionApprove),
			},
			want: StateApproved,
		},
		{
			name: "rejection beats revision",
			votes: []Vote{
				vote(1, actor.RoleReviewer, area(1), DecisionRevise),
				vote(2, actor.RoleCoordinator, area(1), DecisionReject),
			},
			areas: []int64{1},
			want:  StateRejected,
		},
		{
			name: "revision beats area consensus",
			votes: []Vote{
				vote(1, actor.RoleCoordinator, area(1), DecisionApprove),
				vote(2, actor.RoleReviewer, area(1), DecisionApprove),
				vote(3, actor.RoleReviewer, area(1), DecisionRevise),
			},
			areas: []int64{1},
			want:  StateRevision,
		},
		{
			name: "coordinator and reviewer in same area",
			votes: []Vote{
				vote(1, actor.RoleCoordinator, area(1), DecisionApprove),
				vote(2, actor.RoleReviewer, area(1), DecisionApprove),
			},
			areas: []int64{1, 2},
			want:  StateApproved,
		},
		{
			name: "coordinator and reviewer in different areas",
			votes: []Vote{
				vote(1, actor.RoleCoordinator, area(1), DecisionApprove),
				vote(2, actor.RoleReviewer, area(2), DecisionApprove),
			},
			areas: []int64{1, 2},
			want:  StatePending,
		},
		{
			name: "second area coordinator completes multi-area consensus",
			votes: []Vote{
				vote(1, actor.RoleCoordinator, area(1), DecisionApprove),
				vote(2, actor.RoleReviewer, area(2), DecisionApprove),
				vote(3, actor.RoleCoordinator, area(2), DecisionApprove),
			},
			areas: []int64{1, 2},
			want:  StateApproved,
		},
		{
			name: "two coordinators same area are not multi-area",
			votes: []Vote{
				vote(1, actor.RoleCoordinator, area(1), DecisionApprove),
				vote(3, actor.RoleCoordinator, area(1), DecisionApprove),
			},
			areas: []int64{1, 2},
			want:  StatePending,
		},
		{
			name: "coordinator in unassociated area ignored",
			votes: []Vote{
				vote(1, actor.RoleCoordinator, area(1), DecisionApprove),
				vote(3, actor.RoleCoordinator, area(9), DecisionApprove),
			},
			areas: []int64{1, 2},
			want:  StatePending,
		},
		{
			name: "no associations skips area rules",
			votes: []Vote{
				vote(1, actor.RoleCoordinator, area(1), DecisionApprove),
				vote(2, actor.RoleReviewer, area(1), DecisionApprove),
			},
			want: StatePending,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Resolve(tc.votes, tc.areas); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
