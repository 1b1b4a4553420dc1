package challenges

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the referenced challenge or submission does not exist.
	ErrNotFound = errors.New("challenges: not found")
	// ErrNotOwner indicates the caller does not own the challenge.
	ErrNotOwner = errors.New("challenges: caller is not the owner")
	// ErrInvalidPhase indicates an operation is not legal in the challenge's current phase.
	ErrInvalidPhase = errors.New("challenges: invalid phase for operation")
	// ErrInvalidInput indicates a field failed validation.
	ErrInvalidInput = errors.New("challenges: invalid input")
)

// IDProvider issues identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for challenge management.
type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages challenge and submission lifecycle outside of voting.
type Service struct {
	db         *gorm.DB
	idProvider IDProvider
	now        func() time.Time
	logger     *zap.Logger
}

// NewService constructs the challenge service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("challenges: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("challenges: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, idProvider: cfg.IDProvider, now: clock, logger: logger}, nil
}

// Create opens a new challenge in the submission phase.
func (s *Service) Create(ctx context.Context, ownerID, title, beatURL string) (Challenge, error) {
	title = strings.TrimSpace(title)
	beatURL = strings.TrimSpace(beatURL)
	if title == "" {
		return Challenge{}, fmt.Errorf("%w: title", ErrInvalidInput)
	}
	if beatURL == "" {
		return Challenge{}, fmt.Errorf("%w: beat url", ErrInvalidInput)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Challenge{}, err
	}
	challenge := Challenge{
		ID:      id,
		OwnerID: ownerID,
		Title:   title,
		BeatURL: beatURL,
		Phase:   PhaseSubmission,
	}
	if err := s.db.WithContext(ctx).Create(&challenge).Error; err != nil {
		return Challenge{}, err
	}
	s.logger.Info("challenge created",
		zap.String("challenge_id", challenge.ID),
		zap.String("owner_id", ownerID))
	return challenge, nil
}

// Get loads one challenge.
func (s *Service) Get(ctx context.Context, challengeID string) (Challenge, error) {
	var challenge Challenge
	err := s.db.WithContext(ctx).Where("id = ?", challengeID).Take(&challenge).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Challenge{}, ErrNotFound
	}
	if err != nil {
		return Challenge{}, err
	}
	return challenge, nil
}

// AdvancePhase moves the challenge to the target phase. Only the owner may
// advance, and phases never move backward.
func (s *Service) AdvancePhase(ctx context.Context, challengeID, callerID string, target Phase) (Challenge, error) {
	challenge, err := s.Get(ctx, challengeID)
	if err != nil {
		return Challenge{}, err
	}
	if challenge.OwnerID != callerID {
		return Challenge{}, ErrNotOwner
	}
	if !challenge.Phase.canTransitionTo(target) {
		return Challenge{}, fmt.Errorf("%w: %s -> %s", ErrInvalidPhase, challenge.Phase, target)
	}

	if err := s.db.WithContext(ctx).Model(&Challenge{}).
		Where("id = ? AND phase = ?", challenge.ID, challenge.Phase).
		Update("phase", target).Error; err != nil {
		return Challenge{}, err
	}
	challenge.Phase = target
	s.logger.Info("challenge phase advanced",
		zap.String("challenge_id", challenge.ID),
		zap.String("phase", string(target)))
	return challenge, nil
}

// SubmitEntry records an artist's performance while the submission window is open.
func (s *Service) SubmitEntry(ctx context.Context, challengeID, artistID, videoURL string) (Submission, error) {
	videoURL = strings.TrimSpace(videoURL)
	if videoURL == "" {
		return Submission{}, fmt.Errorf("%w: video url", ErrInvalidInput)
	}

	challenge, err := s.Get(ctx, challengeID)
	if err != nil {
		return Submission{}, err
	}
	if challenge.Phase != PhaseSubmission {
		return Submission{}, fmt.Errorf("%w: submissions closed", ErrInvalidPhase)
	}

	id, err := s.idProvider.NewID()
	if err != nil {
		return Submission{}, err
	}
	submission := Submission{
		ID:          id,
		ChallengeID: challenge.ID,
		ArtistID:    artistID,
		VideoURL:    videoURL,
		Status:      StatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&submission).Error; err != nil {
		return Submission{}, err
	}
	return submission, nil
}

// GetSubmission loads one submission.
func (s *Service) GetSubmission(ctx context.Context, submissionID string) (Submission, error) {
	var submission Submission
	err := s.db.WithContext(ctx).Where("id = ?", submissionID).Take(&submission).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Submission{}, ErrNotFound
	}
	if err != nil {
		return Submission{}, err
	}
	return submission, nil
}

// MarkReady flips a pending submission to the ready state after owner review.
func (s *Service) MarkReady(ctx context.Context, submissionID, callerID string) (Submission, error) {
	return s.reviewSubmission(ctx, submissionID, callerID, map[string]interface{}{"status": StatusReady})
}

// Disqualify excludes a submission from voting and leaderboards.
func (s *Service) Disqualify(ctx context.Context, submissionID, callerID string) (Submission, error) {
	return s.reviewSubmission(ctx, submissionID, callerID, map[string]interface{}{"disqualified": true})
}

func (s *Service) reviewSubmission(ctx context.Context, submissionID, callerID string, updates map[string]interface{}) (Submission, error) {
	submission, err := s.GetSubmission(ctx, submissionID)
	if err != nil {
		return Submission{}, err
	}
	challenge, err := s.Get(ctx, submission.ChallengeID)
	if err != nil {
		return Submission{}, err
	}
	if challenge.OwnerID != callerID {
		return Submission{}, ErrNotOwner
	}
	if err := s.db.WithContext(ctx).Model(&Submission{}).
		Where("id = ?", submission.ID).
		Updates(updates).Error; err != nil {
		return Submission{}, err
	}
	return s.GetSubmission(ctx, submissionID)
}
