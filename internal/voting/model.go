package voting

import "time"

// Vote records one voter backing one submission. The composite unique index
// on (submission_id, voter_id) is the correctness mechanism for the
// one-vote-per-user rule; application-level checks are only an early exit.
type Vote struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	SubmissionID string    `gorm:"column:submission_id;size:190;not null;uniqueIndex:idx_votes_submission_voter,priority:1"`
	VoterID      string    `gorm:"column:voter_id;size:190;not null;uniqueIndex:idx_votes_submission_voter,priority:2"`
	OriginAddr   string    `gorm:"column:origin_addr;size:64;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing vote records.
func (Vote) TableName() string {
	return "votes"
}
