package service

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kursadbilgin/invite-engine/internal/domain"
)

// Priority scoring weights. A score is base plus up to three
// contributions, clamped to [1,100].
const (
	scoreBase         = 10
	scoreAvailable    = 40
	scoreOnJob        = 10
	scoreSkillMax     = 30
	scoreRecentWeek   = 20
	scoreRecentMonth  = 10
	recentWeekWindow  = 7 * 24 * time.Hour
	recentMonthWindow = 30 * 24 * time.Hour
)

// Priority reasons recorded for observability; tests and support staff
// assert on these instead of re-deriving the scoring rules.
const (
	PriorityReasonAvailability = "available_now"
	PriorityReasonSkillMatch   = "skill_match"
	PriorityReasonRecentReply  = "recent_responder"
	PriorityReasonBaseline     = "baseline"
)

// JobRequirements is the skill profile of the job being staffed.
type JobRequirements struct {
	Skills []string
}

// PrioritizedContact is a ranked candidate.
type PrioritizedContact struct {
	Candidate domain.Candidate
	Score     int
	Reason    string
}

// Score computes a 1-100 priority from work status, skill match against
// the job requirements, and recency of the contact's last response.
// The returned reason names the dominant factor.
func Score(candidate domain.Candidate, job JobRequirements, now time.Time) (int, string) {
	availability := 0
	switch candidate.WorkStatus {
	case domain.WorkStatusFree:
		availability = scoreAvailable
	case domain.WorkStatusOnJob:
		availability = scoreOnJob
	}

	skill := 0
	if len(job.Skills) > 0 {
		matched := 0
		have := make(map[string]struct{}, len(candidate.Skills))
		for _, s := range candidate.Skills {
			have[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
		}
		for _, s := range job.Skills {
			if _, ok := have[strings.ToLower(strings.TrimSpace(s))]; ok {
				matched++
			}
		}
		skill = matched * scoreSkillMax / len(job.Skills)
	}

	recency := 0
	if candidate.LastResponseAt != nil {
		elapsed := now.Sub(*candidate.LastResponseAt)
		switch {
		case elapsed <= recentWeekWindow:
			recency = scoreRecentWeek
		case elapsed <= recentMonthWindow:
			recency = scoreRecentMonth
		}
	}

	total := scoreBase + availability + skill + recency
	if total > 100 {
		total = 100
	}
	if total < 1 {
		total = 1
	}

	reason := PriorityReasonBaseline
	dominant := 0
	for _, c := range []struct {
		value  int
		reason string
	}{
		{availability, PriorityReasonAvailability},
		{skill, PriorityReasonSkillMatch},
		{recency, PriorityReasonRecentReply},
	} {
		if c.value > dominant {
			dominant = c.value
			reason = c.reason
		}
	}

	return total, reason
}

// Rank orders candidates by descending score, breaking ties by
// ascending contact id so repeated calls are deterministic. A candidate
// who already confirmed for the campaign is a caller error, not a
// silent skip.
func Rank(candidates []domain.Candidate, job JobRequirements, now time.Time) ([]PrioritizedContact, error) {
	prioritized := make([]PrioritizedContact, 0, len(candidates))
	for i := range candidates {
		candidate := candidates[i]
		if err := candidate.Validate(); err != nil {
			return nil, err
		}
		if candidate.AvailabilityStatus == domain.AvailabilityConfirmed {
			return nil, fmt.Errorf("%w: contact %s", domain.ErrAlreadyConfirmed, candidate.ContactID)
		}

		score, reason := Score(candidate, job, now)
		prioritized = append(prioritized, PrioritizedContact{
			Candidate: candidate,
			Score:     score,
			Reason:    reason,
		})
	}

	sort.SliceStable(prioritized, func(i, j int) bool {
		if prioritized[i].Score != prioritized[j].Score {
			return prioritized[i].Score > prioritized[j].Score
		}
		return prioritized[i].Candidate.ContactID < prioritized[j].Candidate.ContactID
	})

	return prioritized, nil
}

// Slice cuts the ranked list into batches of at most batchSize to bound
// burst send rate against the channel gateways.
func Slice(prioritized []PrioritizedContact, batchSize int) [][]PrioritizedContact {
	if batchSize < 1 {
		batchSize = 1
	}

	batches := make([][]PrioritizedContact, 0, (len(prioritized)+batchSize-1)/batchSize)
	for start := 0; start < len(prioritized); start += batchSize {
		end := min(start+batchSize, len(prioritized))
		batches = append(batches, prioritized[start:end])
	}
	return batches
}
