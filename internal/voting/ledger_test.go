package voting

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/beatbound/beatbound/backend/internal/broadcast"
	"github.com/beatbound/beatbound/backend/internal/challenges"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type recordedDelta struct {
	ChallengeID string
	Delta       broadcast.VoteDelta
}

type recordingPublisher struct {
	mu     sync.Mutex
	deltas []recordedDelta
}

func (p *recordingPublisher) Publish(challengeID string, delta broadcast.VoteDelta) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deltas = append(p.deltas, recordedDelta{ChallengeID: challengeID, Delta: delta})
}

func (p *recordingPublisher) recorded() []recordedDelta {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedDelta(nil), p.deltas...)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&challenges.Challenge{}, &challenges.Submission{}, &Vote{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestLedger(t *testing.T, db *gorm.DB) (*Ledger, *recordingPublisher) {
	t.Helper()
	publisher := &recordingPublisher{}
	ledger, err := NewLedger(LedgerConfig{
		Database:   db,
		IDProvider: NewUUIDProvider(),
		Publisher:  publisher,
	})
	if err != nil {
		t.Fatalf("failed to construct ledger: %v", err)
	}
	return ledger, publisher
}

func seedChallenge(t *testing.T, db *gorm.DB, phase challenges.Phase) challenges.Challenge {
	t.Helper()
	challenge := challenges.Challenge{
		ID:      "challenge-" + string(phase),
		OwnerID: "producer-1",
		Title:   "Test Beat Battle",
		BeatURL: "https://cdn.example.com/beat.mp3",
		Phase:   phase,
	}
	if err := db.Create(&challenge).Error; err != nil {
		t.Fatalf("failed to seed challenge: %v", err)
	}
	return challenge
}

func seedSubmission(t *testing.T, db *gorm.DB, challengeID, id string, status challenges.SubmissionStatus, disqualified bool) challenges.Submission {
	t.Helper()
	submission := challenges.Submission{
		ID:           id,
		ChallengeID:  challengeID,
		ArtistID:     "artist-" + id,
		VideoURL:     "https://cdn.example.com/" + id + ".mp4",
		Status:       status,
		Disqualified: disqualified,
	}
	if err := db.Create(&submission).Error; err != nil {
		t.Fatalf("failed to seed submission: %v", err)
	}
	return submission
}

func expectKind(t *testing.T, err error, kind RejectionKind) {
	t.Helper()
	rejection, ok := AsRejection(err)
	if !ok {
		t.Fatalf("expected rejection of kind %s, got %v", kind, err)
	}
	if rejection.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%s)", kind, rejection.Kind, rejection.Message)
	}
}

func TestCastVoteIncrementsCounterAndPublishes(t *testing.T) {
	db := openTestDB(t)
	ledger, publisher := newTestLedger(t, db)
	challenge := seedChallenge(t, db, challenges.PhaseVoting)
	submission := seedSubmission(t, db, challenge.ID, "sub-1", challenges.StatusReady, false)

	result, err := ledger.CastVote(context.Background(), "voter-1", submission.ID, "203.0.113.9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.VoteID == "" {
		t.Fatal("expected a vote id")
	}
	if result.VoteCount != 1 {
		t.Fatalf("expected vote count 1, got %d", result.VoteCount)
	}

	var stored challenges.Submission
	if err := db.Where("id = ?", submission.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload submission: %v", err)
	}
	if stored.VoteCount != 1 {
		t.Fatalf("expected persisted vote count 1, got %d", stored.VoteCount)
	}

	var vote Vote
	if err := db.Where("submission_id = ? AND voter_id = ?", submission.ID, "voter-1").Take(&vote).Error; err != nil {
		t.Fatalf("expected vote row: %v", err)
	}
	if vote.OriginAddr != "203.0.113.9" {
		t.Fatalf("expected origin address recorded, got %q", vote.OriginAddr)
	}

	deltas := publisher.recorded()
	if len(deltas) != 1 {
		t.Fatalf("expected 1 published delta, got %d", len(deltas))
	}
	if deltas[0].ChallengeID != challenge.ID {
		t.Fatalf("expected delta on challenge topic, got %s", deltas[0].ChallengeID)
	}
	if deltas[0].Delta.Action != broadcast.ActionAdd || deltas[0].Delta.VoteCount != 1 {
		t.Fatalf("unexpected delta: %#v", deltas[0].Delta)
	}
}

func TestCastVoteRejectsDuplicate(t *testing.T) {
	db := openTestDB(t)
	ledger, publisher := newTestLedger(t, db)
	challenge := seedChallenge(t, db, challenges.PhaseVoting)
	submission := seedSubmission(t, db, challenge.ID, "sub-1", challenges.StatusReady, false)

	if _, err := ledger.CastVote(context.Background(), "voter-1", submission.ID, "203.0.113.9"); err != nil {
		t.Fatalf("unexpected error on first cast: %v", err)
	}
	_, err := ledger.CastVote(context.Background(), "voter-1", submission.ID, "203.0.113.9")
	expectKind(t, err, KindDuplicate)

	var stored challenges.Submission
	if err := db.Where("id = ?", submission.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload submission: %v", err)
	}
	if stored.VoteCount != 1 {
		t.Fatalf("duplicate cast must not change the counter, got %d", stored.VoteCount)
	}
	if len(publisher.recorded()) != 1 {
		t.Fatalf("duplicate cast must not publish, got %d deltas", len(publisher.recorded()))
	}
}

func TestCastVotePreconditionOrder(t *testing.T) {
	db := openTestDB(t)
	ledger, _ := newTestLedger(t, db)
	open := seedChallenge(t, db, challenges.PhaseVoting)
	closed := seedChallenge(t, db, challenges.PhaseSubmission)

	pending := seedSubmission(t, db, open.ID, "sub-pending", challenges.StatusPending, false)
	disqualified := seedSubmission(t, db, open.ID, "sub-dq", challenges.StatusReady, true)
	notOpen := seedSubmission(t, db, closed.ID, "sub-closed", challenges.StatusReady, false)

	_, err := ledger.CastVote(context.Background(), "voter-1", "missing", "127.0.0.1")
	expectKind(t, err, KindNotFound)

	_, err = ledger.CastVote(context.Background(), "voter-1", pending.ID, "127.0.0.1")
	expectKind(t, err, KindInvalidState)

	_, err = ledger.CastVote(context.Background(), "voter-1", disqualified.ID, "127.0.0.1")
	expectKind(t, err, KindInvalidState)

	_, err = ledger.CastVote(context.Background(), "voter-1", notOpen.ID, "127.0.0.1")
	expectKind(t, err, KindInvalidState)

	_, err = ledger.CastVote(context.Background(), "  ", pending.ID, "127.0.0.1")
	expectKind(t, err, KindUnauthenticated)
}

func TestCastVoteRejectedPhaseDoesNotMutateCounter(t *testing.T) {
	db := openTestDB(t)
	ledger, _ := newTestLedger(t, db)
	challenge := seedChallenge(t, db, challenges.PhaseEnded)
	submission := seedSubmission(t, db, challenge.ID, "sub-1", challenges.StatusReady, false)

	_, err := ledger.CastVote(context.Background(), "voter-1", submission.ID, "127.0.0.1")
	expectKind(t, err, KindInvalidState)

	var stored challenges.Submission
	if err := db.Where("id = ?", submission.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload submission: %v", err)
	}
	if stored.VoteCount != 0 {
		t.Fatalf("rejected cast must not mutate counter, got %d", stored.VoteCount)
	}
}

func TestRetractVoteDecrementsAndPublishes(t *testing.T) {
	db := openTestDB(t)
	ledger, publisher := newTestLedger(t, db)
	challenge := seedChallenge(t, db, challenges.PhaseVoting)
	submission := seedSubmission(t, db, challenge.ID, "sub-1", challenges.StatusReady, false)

	if _, err := ledger.CastVote(context.Background(), "voter-1", submission.ID, "127.0.0.1"); err != nil {
		t.Fatalf("unexpected cast error: %v", err)
	}
	count, err := ledger.RetractVote(context.Background(), "voter-1", submission.ID)
	if err != nil {
		t.Fatalf("unexpected retract error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected count 0 after retraction, got %d", count)
	}

	var remaining int64
	if err := db.Model(&Vote{}).Where("submission_id = ?", submission.ID).Count(&remaining).Error; err != nil {
		t.Fatalf("failed to count votes: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected vote row deleted, found %d", remaining)
	}

	deltas := publisher.recorded()
	if len(deltas) != 2 {
		t.Fatalf("expected 2 published deltas, got %d", len(deltas))
	}
	if deltas[1].Delta.Action != broadcast.ActionRemove || deltas[1].Delta.VoteCount != 0 {
		t.Fatalf("unexpected retract delta: %#v", deltas[1].Delta)
	}
}

func TestRetractVoteWithoutExistingVote(t *testing.T) {
	db := openTestDB(t)
	ledger, _ := newTestLedger(t, db)
	challenge := seedChallenge(t, db, challenges.PhaseVoting)
	submission := seedSubmission(t, db, challenge.ID, "sub-1", challenges.StatusReady, false)

	_, err := ledger.RetractVote(context.Background(), "voter-1", submission.ID)
	expectKind(t, err, KindDuplicate)

	var stored challenges.Submission
	if err := db.Where("id = ?", submission.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload submission: %v", err)
	}
	if stored.VoteCount != 0 {
		t.Fatalf("counter must never go negative, got %d", stored.VoteCount)
	}
}

func TestRetractVoteAfterVotingClosed(t *testing.T) {
	db := openTestDB(t)
	ledger, _ := newTestLedger(t, db)
	challenge := seedChallenge(t, db, challenges.PhaseVoting)
	submission := seedSubmission(t, db, challenge.ID, "sub-1", challenges.StatusReady, false)

	if _, err := ledger.CastVote(context.Background(), "voter-1", submission.ID, "127.0.0.1"); err != nil {
		t.Fatalf("unexpected cast error: %v", err)
	}
	if err := db.Model(&challenges.Challenge{}).Where("id = ?", challenge.ID).
		Update("phase", challenges.PhaseEnded).Error; err != nil {
		t.Fatalf("failed to close voting: %v", err)
	}

	_, err := ledger.RetractVote(context.Background(), "voter-1", submission.ID)
	expectKind(t, err, KindInvalidState)
}

func TestCounterConsistencyAcrossCastsAndRetractions(t *testing.T) {
	db := openTestDB(t)
	ledger, _ := newTestLedger(t, db)
	challenge := seedChallenge(t, db, challenges.PhaseVoting)
	submission := seedSubmission(t, db, challenge.ID, "sub-1", challenges.StatusReady, false)

	const casts = 8
	for i := 0; i < casts; i++ {
		voter := fmt.Sprintf("voter-%d", i)
		if _, err := ledger.CastVote(context.Background(), voter, submission.ID, "127.0.0.1"); err != nil {
			t.Fatalf("cast %d failed: %v", i, err)
		}
	}
	const retractions = 3
	for i := 0; i < retractions; i++ {
		voter := fmt.Sprintf("voter-%d", i)
		if _, err := ledger.RetractVote(context.Background(), voter, submission.ID); err != nil {
			t.Fatalf("retraction %d failed: %v", i, err)
		}
	}

	var stored challenges.Submission
	if err := db.Where("id = ?", submission.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload submission: %v", err)
	}
	if stored.VoteCount != casts-retractions {
		t.Fatalf("expected count %d, got %d", casts-retractions, stored.VoteCount)
	}

	var rows int64
	if err := db.Model(&Vote{}).Where("submission_id = ?", submission.ID).Count(&rows).Error; err != nil {
		t.Fatalf("failed to count votes: %v", err)
	}
	if rows != casts-retractions {
		t.Fatalf("expected %d vote rows, got %d", casts-retractions, rows)
	}
}

func TestConcurrentDuplicateCastYieldsOneSuccess(t *testing.T) {
	db := openTestDB(t)
	ledger, _ := newTestLedger(t, db)
	challenge := seedChallenge(t, db, challenges.PhaseVoting)
	submission := seedSubmission(t, db, challenge.ID, "sub-1", challenges.StatusReady, false)

	const attempts = 8
	var wg sync.WaitGroup
	results := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			_, results[index] = ledger.CastVote(context.Background(), "voter-1", submission.ID, "127.0.0.1")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		expectKind(t, err, KindDuplicate)
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful cast, got %d", successes)
	}

	var stored challenges.Submission
	if err := db.Where("id = ?", submission.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload submission: %v", err)
	}
	if stored.VoteCount != 1 {
		t.Fatalf("expected counter 1 after concurrent duplicates, got %d", stored.VoteCount)
	}
}

func TestConcurrentDistinctVoters(t *testing.T) {
	db := openTestDB(t)
	ledger, _ := newTestLedger(t, db)
	challenge := seedChallenge(t, db, challenges.PhaseVoting)
	submission := seedSubmission(t, db, challenge.ID, "sub-1", challenges.StatusReady, false)

	const voters = 10
	var wg sync.WaitGroup
	errs := make([]error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			voter := fmt.Sprintf("voter-%d", index)
			_, errs[index] = ledger.CastVote(context.Background(), voter, submission.ID, "127.0.0.1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("voter %d failed: %v", i, err)
		}
	}

	var stored challenges.Submission
	if err := db.Where("id = ?", submission.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload submission: %v", err)
	}
	if stored.VoteCount != voters {
		t.Fatalf("expected counter %d, got %d", voters, stored.VoteCount)
	}
}

func TestNewLedgerValidatesDependencies(t *testing.T) {
	db := openTestDB(t)
	if _, err := NewLedger(LedgerConfig{IDProvider: NewUUIDProvider(), Publisher: &recordingPublisher{}}); err == nil {
		t.Fatal("expected error without database")
	}
	if _, err := NewLedger(LedgerConfig{Database: db, Publisher: &recordingPublisher{}}); err == nil {
		t.Fatal("expected error without id provider")
	}
	if _, err := NewLedger(LedgerConfig{Database: db, IDProvider: NewUUIDProvider()}); err == nil {
		t.Fatal("expected error without publisher")
	}
}
