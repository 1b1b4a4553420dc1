package database

import (
	"fmt"
	"testing"

	"github.com/beatbound/beatbound/backend/internal/challenges"
	"github.com/beatbound/beatbound/backend/internal/voting"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openMigratedDB(t *testing.T) *gorm.DB {
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
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func TestBackfillVoteCountsRecomputesCounters(t *testing.T) {
	db := openMigratedDB(t)

	challenge := challenges.Challenge{
		ID:      "challenge-1",
		OwnerID: "producer-1",
		Title:   "Battle",
		BeatURL: "https://cdn.example.com/beat.mp3",
		Phase:   challenges.PhaseVoting,
	}
	if err := db.Create(&challenge).Error; err != nil {
		t.Fatalf("failed to seed challenge: %v", err)
	}
	submission := challenges.Submission{
		ID:          "sub-1",
		ChallengeID: challenge.ID,
		ArtistID:    "artist-1",
		VideoURL:    "https://cdn.example.com/entry.mp4",
		Status:      challenges.StatusReady,
		VoteCount:   99,
	}
	if err := db.Create(&submission).Error; err != nil {
		t.Fatalf("failed to seed submission: %v", err)
	}
	for i := 0; i < 3; i++ {
		vote := voting.Vote{
			ID:           fmt.Sprintf("vote-%d", i),
			SubmissionID: submission.ID,
			VoterID:      fmt.Sprintf("voter-%d", i),
			OriginAddr:   "127.0.0.1",
		}
		if err := db.Create(&vote).Error; err != nil {
			t.Fatalf("failed to seed vote: %v", err)
		}
	}

	if err := backfillVoteCounts(db); err != nil {
		t.Fatalf("backfill failed: %v", err)
	}

	var stored challenges.Submission
	if err := db.Where("id = ?", submission.ID).Take(&stored).Error; err != nil {
		t.Fatalf("failed to reload submission: %v", err)
	}
	if stored.VoteCount != 3 {
		t.Fatalf("expected backfilled count 3, got %d", stored.VoteCount)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	db := openMigratedDB(t)

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("first application failed: %v", err)
	}
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("second application failed: %v", err)
	}

	var records int64
	if err := db.Model(&migrationRecord{}).Count(&records).Error; err != nil {
		t.Fatalf("failed to count migration records: %v", err)
	}
	if records != 1 {
		t.Fatalf("expected one migration record, got %d", records)
	}
}
