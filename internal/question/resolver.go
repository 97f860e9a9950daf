package question

import "evalbank/internal/actor"

// Resolve computes a version's state from its full vote set and its area
// snapshot. The first matching rule wins:
//
//  1. an admin aprobar vote approves
//  2. any rechazar vote rejects
//  3. any revision vote sends the version to revision
//  4. an associated area holding both a coordinator and a reviewer aprobar approves
//  5. coordinator aprobar votes in two distinct associated areas approve
//  6. otherwise the version stays pending
//
// Rules 4 and 5 only consider areas in the snapshot, so a version without
// associations can only be approved by an admin.
func Resolve(votes []Vote, areaIDs []int64) State {
	for _, v := range votes {
		if v.Decision == DecisionApprove && v.Role == actor.RoleAdmin {
			return StateApproved
		}
	}
	for _, v := range votes {
		if v.Decision == DecisionReject {
			return StateRejected
		}
	}
	for _, v := range votes {
		if v.Decision == DecisionRevise {
			return StateRevision
		}
	}
	if len(areaIDs) == 0 {
		return StatePending
	}

	associated := make(map[int64]struct{}, len(areaIDs))
	for _, id := range areaIDs {
		associated[id] = struct{}{}
	}

	coordinators := map[int64]bool{}
	reviewers := map[int64]bool{}
	for _, v := range votes {
		if v.Decision != DecisionApprove || v.AreaID == nil {
			continue
		}
		if _, ok := associated[*v.AreaID]; !ok {
			continue
		}
		switch v.Role {
		case actor.RoleCoordinator:
			coordinators[*v.AreaID] = true
		case actor.RoleReviewer:
			reviewers[*v.AreaID] = true
		}
	}

	for area := range coordinators {
		if reviewers[area] {
			return StateApproved
		}
	}
	// TODO: confirm with the academic board whether cross-area sign-off
	// should also require a reviewer in one of the two areas.
	if len(coordinators) >= 2 {
		return StateApproved
	}
	return StatePending
}
