package actor

import "context"

// Role is the capability a vote was cast under.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleCoordinator Role = "coordinador"
	RoleReviewer    Role = "revisor"
)

// Actor is the caller's capability set. It is resolved outside this service
// and threaded explicitly into every operation.
type Actor struct {
	ID               int64   `json:"id"`
	Admin            bool    `json:"admin"`
	CoordinatorAreas []int64 `json:"coordinator_areas,omitempty"`
	ReviewerAreas    []int64 `json:"reviewer_areas,omitempty"`
	Instructor       bool    `json:"instructor"`
	Student          bool    `json:"student"`
}

func (a Actor) IsCoordinatorOf(areaID int64) bool {
	return containsID(a.CoordinatorAreas, areaID)
}

func (a Actor) IsReviewerOf(areaID int64) bool {
	return containsID(a.ReviewerAreas, areaID)
}

// CanVote reports whether the actor holds any vote-bearing capability.
func (a Actor) CanVote() bool {
	return a.Admin || len(a.CoordinatorAreas) > 0 || len(a.ReviewerAreas) > 0
}

// CanManageExams covers exam editing, assembly and manual grading.
func (a Actor) CanManageExams() bool {
	return a.Admin || a.Instructor
}

func (a Actor) CanAuthor() bool {
	return a.Admin || a.Instructor || len(a.CoordinatorAreas) > 0
}

// VoteRole picks the strongest capability the actor holds for areaID:
// admin, then coordinator, then reviewer.
func (a Actor) VoteRole(areaID int64) (Role, bool) {
	switch {
	case a.Admin:
		return RoleAdmin, true
	case a.IsCoordinatorOf(areaID):
		return RoleCoordinator, true
	case a.IsReviewerOf(areaID):
		return RoleReviewer, true
	default:
		return "", false
	}
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type contextKey string

const actorContextKey contextKey = "actor"

func WithContext(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorContextKey, a)
}

func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorContextKey).(Actor)
	return a, ok
}
