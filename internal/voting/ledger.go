package voting

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/beatbound/beatbound/backend/internal/broadcast"
	"github.com/beatbound/beatbound/backend/internal/challenges"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IDProvider issues identifiers for new vote rows.
type IDProvider interface {
	NewID() (string, error)
}

// Publisher relays vote deltas to live feed subscribers.
type Publisher interface {
	Publish(challengeID string, delta broadcast.VoteDelta)
}

// LedgerConfig describes the dependencies of the vote ledger.
type LedgerConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Publisher  Publisher
	Logger     *zap.Logger
}

// Ledger is the sole authority for creating and retracting votes and for
// keeping the denormalized vote counters consistent with the votes table.
type Ledger struct {
	db         *gorm.DB
	idProvider IDProvider
	publisher  Publisher
	logger     *zap.Logger
}

// NewLedger constructs the vote ledger.
func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("voting: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("voting: id provider required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("voting: publisher required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		publisher:  cfg.Publisher,
		logger:     logger,
	}, nil
}

// CastResult reports the outcome of a successful cast.
type CastResult struct {
	VoteID    string
	VoteCount int64
}

// CastVote records one vote by voterID on submissionID. The vote row insert
// and the counter increment commit as one transaction; the delta event is
// published only after the transaction commits so subscribers never see a
// count that rolled back.
func (l *Ledger) CastVote(ctx context.Context, voterID, submissionID, originAddr string) (CastResult, error) {
	if strings.TrimSpace(voterID) == "" {
		return CastResult{}, reject(KindUnauthenticated, "voter identity required")
	}

	var (
		result      CastResult
		challengeID string
	)
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		submission, challenge, err := l.loadVotable(tx, submissionID)
		if err != nil {
			return err
		}
		challengeID = challenge.ID

		// Early exit only; the unique index is what closes the race window.
		var existing int64
		if err := tx.Model(&Vote{}).
			Where("submission_id = ? AND voter_id = ?", submission.ID, voterID).
			Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return reject(KindDuplicate, "duplicate vote")
		}

		voteID, err := l.idProvider.NewID()
		if err != nil {
			return err
		}
		vote := Vote{
			ID:           voteID,
			SubmissionID: submission.ID,
			VoterID:      voterID,
			OriginAddr:   originAddr,
		}
		if err := tx.Create(&vote).Error; err != nil {
			if isUniqueViolation(err) {
				return rejectWithCause(KindDuplicate, "duplicate vote", err)
			}
			return err
		}

		newCount, err := l.shiftCounter(tx, submission.ID, +1)
		if err != nil {
			return err
		}
		result = CastResult{VoteID: voteID, VoteCount: newCount}
		return nil
	})
	if txErr != nil {
		return CastResult{}, txErr
	}

	l.publisher.Publish(challengeID, broadcast.VoteDelta{
		SubmissionID: submissionID,
		VoteCount:    result.VoteCount,
		Action:       broadcast.ActionAdd,
	})
	l.logger.Debug("vote cast",
		zap.String("submission_id", submissionID),
		zap.String("voter_id", voterID),
		zap.Int64("vote_count", result.VoteCount))
	return result, nil
}

// RetractVote removes the caller's vote while voting remains open. Retraction
// after voting closes is rejected; closed voting is immutable history.
func (l *Ledger) RetractVote(ctx context.Context, voterID, submissionID string) (int64, error) {
	if strings.TrimSpace(voterID) == "" {
		return 0, reject(KindUnauthenticated, "voter identity required")
	}

	var (
		newCount    int64
		challengeID string
	)
	txErr := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		submission, challenge, err := l.loadForRetraction(tx, submissionID)
		if err != nil {
			return err
		}
		challengeID = challenge.ID

		deletion := tx.Where("submission_id = ? AND voter_id = ?", submission.ID, voterID).
			Delete(&Vote{})
		if deletion.Error != nil {
			return deletion.Error
		}
		if deletion.RowsAffected == 0 {
			return reject(KindDuplicate, "no vote to remove")
		}

		// The decrement only runs when a row was deleted, so the counter
		// cannot go negative.
		newCount, err = l.shiftCounter(tx, submission.ID, -1)
		return err
	})
	if txErr != nil {
		return 0, txErr
	}

	l.publisher.Publish(challengeID, broadcast.VoteDelta{
		SubmissionID: submissionID,
		VoteCount:    newCount,
		Action:       broadcast.ActionRemove,
	})
	l.logger.Debug("vote retracted",
		zap.String("submission_id", submissionID),
		zap.String("voter_id", voterID),
		zap.Int64("vote_count", newCount))
	return newCount, nil
}

// loadVotable resolves the submission and its challenge, applying the cast
// preconditions in order: exists, ready, not disqualified, voting open.
func (l *Ledger) loadVotable(tx *gorm.DB, submissionID string) (challenges.Submission, challenges.Challenge, error) {
	submission, challenge, err := l.loadPair(tx, submissionID)
	if err != nil {
		return challenges.Submission{}, challenges.Challenge{}, err
	}
	if submission.Status != challenges.StatusReady {
		return challenges.Submission{}, challenges.Challenge{}, reject(KindInvalidState, "not ready for voting")
	}
	if submission.Disqualified {
		return challenges.Submission{}, challenges.Challenge{}, reject(KindInvalidState, "disqualified")
	}
	if challenge.Phase != challenges.PhaseVoting {
		return challenges.Submission{}, challenges.Challenge{}, reject(KindInvalidState, "voting not open")
	}
	return submission, challenge, nil
}

func (l *Ledger) loadForRetraction(tx *gorm.DB, submissionID string) (challenges.Submission, challenges.Challenge, error) {
	submission, challenge, err := l.loadPair(tx, submissionID)
	if err != nil {
		return challenges.Submission{}, challenges.Challenge{}, err
	}
	if challenge.Phase != challenges.PhaseVoting {
		return challenges.Submission{}, challenges.Challenge{}, reject(KindInvalidState, "voting not open")
	}
	return submission, challenge, nil
}

func (l *Ledger) loadPair(tx *gorm.DB, submissionID string) (challenges.Submission, challenges.Challenge, error) {
	var submission challenges.Submission
	err := tx.Where("id = ?", submissionID).Take(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return challenges.Submission{}, challenges.Challenge{}, reject(KindNotFound, "submission not found")
	}
	if err != nil {
		return challenges.Submission{}, challenges.Challenge{}, err
	}

	var challenge challenges.Challenge
	err = tx.Where("id = ?", submission.ChallengeID).Take(&challenge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return challenges.Submission{}, challenges.Challenge{}, reject(KindNotFound, "challenge not found")
	}
	if err != nil {
		return challenges.Submission{}, challenges.Challenge{}, err
	}
	return submission, challenge, nil
}

// shiftCounter applies the store-side increment/decrement and returns the new
// value. Application code never read-modify-writes vote_count directly.
func (l *Ledger) shiftCounter(tx *gorm.DB, submissionID string, delta int) (int64, error) {
	if err := tx.Model(&challenges.Submission{}).
		Where("id = ?", submissionID).
		UpdateColumn("vote_count", gorm.Expr("vote_count + ?", delta)).Error; err != nil {
		return 0, err
	}
	var updated challenges.Submission
	if err := tx.Select("vote_count").Where("id = ?", submissionID).Take(&updated).Error; err != nil {
		return 0, err
	}
	return updated.VoteCount, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key value")
}
