package profile

import "github.com/mbti-rec/server/pkg/models"

// Outcome names which branch of UpdateUserFromBehaviors/UpdateContentFromUsers
// a call took, so callers (the HTTP layer, the worker pool) can react without
// string-matching an error.
type Outcome string

const (
	OutcomeUpdated        Outcome = "updated"
	OutcomeNotDue         Outcome = "not_due"
	OutcomeInsufficient   Outcome = "insufficient"
	OutcomeNoLabeledUsers Outcome = "no_labeled_users"
	OutcomeConflict       Outcome = "conflict"
)

// TraitChange is one axis's before/after reading, the unit the supplemented
// probability-change report is built from (grounded on
// _calculate_probability_changes).
type TraitChange struct {
	Old   float64 `json:"old"`
	New   float64 `json:"new"`
	Delta float64 `json:"delta"`
}

// ProbabilityChanges reports the old/new/delta for all eight traits.
type ProbabilityChanges map[models.Trait]TraitChange

func calculateProbabilityChanges(oldV, newV models.MBTIVector) ProbabilityChanges {
	changes := make(ProbabilityChanges, 8)
	for _, trait := range []models.Trait{
		models.TraitE, models.TraitI, models.TraitS, models.TraitN,
		models.TraitT, models.TraitF, models.TraitJ, models.TraitP,
	} {
		o, n := oldV.Get(trait), newV.Get(trait)
		changes[trait] = TraitChange{Old: o, New: n, Delta: n - o}
	}
	return changes
}

// UserUpdateResult is the outcome of UpdateUserFromBehaviors.
type UserUpdateResult struct {
	Outcome           Outcome
	UserID            int64
	OldVector         models.MBTIVector
	NewVector         models.MBTIVector
	TypeLabel         string
	Changes           ProbabilityChanges
	BehaviorsAnalyzed int
}

// ContentUpdateResult is the outcome of UpdateContentFromUsers.
type ContentUpdateResult struct {
	Outcome          Outcome
	ContentID        int64
	OldVector        models.MBTIVector
	NewVector        models.MBTIVector
	TypeLabel        string
	Changes          ProbabilityChanges
	ToucherCount     int
	LabeledUserCount int
}
