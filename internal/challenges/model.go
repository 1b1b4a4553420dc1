package challenges

import (
	"strings"
	"time"
)

// Phase is the lifecycle state of a challenge.
type Phase string

const (
	// PhaseSubmission accepts new performance entries.
	PhaseSubmission Phase = "submission"
	// PhaseVoting accepts votes; submissions are frozen.
	PhaseVoting Phase = "voting"
	// PhaseEnded is terminal; standings are immutable history.
	PhaseEnded Phase = "ended"
)

// ParsePhase validates raw input against the known phases.
func ParsePhase(raw string) (Phase, bool) {
	switch Phase(strings.ToLower(strings.TrimSpace(raw))) {
	case PhaseSubmission:
		return PhaseSubmission, true
	case PhaseVoting:
		return PhaseVoting, true
	case PhaseEnded:
		return PhaseEnded, true
	default:
		return "", false
	}
}

// Phases only move forward: submission -> voting -> ended.
func (p Phase) canTransitionTo(target Phase) bool {
	switch p {
	case PhaseSubmission:
		return target == PhaseVoting
	case PhaseVoting:
		return target == PhaseEnded
	default:
		return false
	}
}

// SubmissionStatus tracks whether an entry passed producer review.
type SubmissionStatus string

const (
	// StatusPending means the entry awaits review and cannot receive votes.
	StatusPending SubmissionStatus = "pending"
	// StatusReady means the entry is eligible for voting.
	StatusReady SubmissionStatus = "ready"
)

// Challenge is a producer-created beat competition.
type Challenge struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	OwnerID   string    `gorm:"column:owner_id;size:190;not null;index"`
	Title     string    `gorm:"column:title;size:320;not null"`
	BeatURL   string    `gorm:"column:beat_url;size:512;not null"`
	Phase     Phase     `gorm:"column:phase;size:32;not null;default:submission"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing challenges.
func (Challenge) TableName() string {
	return "challenges"
}

// Submission is an artist's performance entry into one challenge.
// VoteCount is denormalized and only ever mutated by the vote ledger.
type Submission struct {
	ID           string           `gorm:"column:id;primaryKey;size:190;not null"`
	ChallengeID  string           `gorm:"column:challenge_id;size:190;not null;index:idx_submissions_challenge_votes,priority:1"`
	ArtistID     string           `gorm:"column:artist_id;size:190;not null;index"`
	VideoURL     string           `gorm:"column:video_url;size:512;not null"`
	Status       SubmissionStatus `gorm:"column:status;size:32;not null;default:pending"`
	Disqualified bool             `gorm:"column:disqualified;not null;default:false"`
	VoteCount    int64            `gorm:"column:vote_count;not null;default:0;index:idx_submissions_challenge_votes,priority:2"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing submissions.
func (Submission) TableName() string {
	return "submissions"
}

// Eligible reports whether the submission may appear on leaderboards and receive votes.
func (s Submission) Eligible() bool {
	return s.Status == StatusReady && !s.Disqualified
}
