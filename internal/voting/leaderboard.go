package voting

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/beatbound/beatbound/backend/internal/challenges"
	"gorm.io/gorm"
)

const leaderboardLimit = 50

// Entry is one ranked row of a leaderboard snapshot.
type Entry struct {
	SubmissionID   string  `json:"submissionId"`
	ArtistID       string  `json:"artistId"`
	Rank           int     `json:"rank"`
	VoteCount      int64   `json:"voteCount"`
	VotePercentage float64 `json:"votePercentage"`
}

// Snapshot is a point-in-time ranked view of one challenge's submissions.
type Snapshot struct {
	ChallengeID string  `json:"challengeId"`
	Entries     []Entry `json:"entries"`
	TotalVotes  int64   `json:"totalVotes"`
}

// ProjectorConfig describes the dependencies of the leaderboard projector.
type ProjectorConfig struct {
	Database *gorm.DB
}

// Projector computes leaderboard snapshots on demand. It never mutates state.
type Projector struct {
	db *gorm.DB
}

// NewProjector constructs the leaderboard projector.
func NewProjector(cfg ProjectorConfig) (*Projector, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("voting: database connection required")
	}
	return &Projector{db: cfg.Database}, nil
}

// Leaderboard ranks the eligible submissions of one challenge by descending
// vote count, capped at the top 50. Ties break to the earlier submission so
// repeated queries over unchanged data are identical. TotalVotes sums only
// the returned window.
func (p *Projector) Leaderboard(ctx context.Context, challengeID string) (Snapshot, error) {
	var challenge challenges.Challenge
	err := p.db.WithContext(ctx).Where("id = ?", challengeID).Take(&challenge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Snapshot{}, reject(KindNotFound, "challenge not found")
	}
	if err != nil {
		return Snapshot{}, err
	}

	var submissions []challenges.Submission
	if err := p.db.WithContext(ctx).
		Where("challenge_id = ? AND status = ? AND disqualified = ?",
			challenge.ID, challenges.StatusReady, false).
		Order("vote_count DESC, created_at ASC, id ASC").
		Limit(leaderboardLimit).
		Find(&submissions).Error; err != nil {
		return Snapshot{}, err
	}

	var totalVotes int64
	for _, submission := range submissions {
		totalVotes += submission.VoteCount
	}

	entries := make([]Entry, 0, len(submissions))
	for index, submission := range submissions {
		entries = append(entries, Entry{
			SubmissionID:   submission.ID,
			ArtistID:       submission.ArtistID,
			Rank:           index + 1,
			VoteCount:      submission.VoteCount,
			VotePercentage: percentage(submission.VoteCount, totalVotes),
		})
	}

	return Snapshot{
		ChallengeID: challenge.ID,
		Entries:     entries,
		TotalVotes:  totalVotes,
	}, nil
}

// percentage returns the vote share rounded to one decimal place, 0 when no
// votes have been cast.
func percentage(count, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(count)/float64(total)*1000) / 10
}
