package governance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type AuditTestSuite struct {
	suite.Suite
}

func TestAuditSuite(t *testing.T) {
	suite.Run(t, new(AuditTestSuite))
}

func (suite *AuditTestSuite) TestAppendAndRead() {
	log, err := NewAuditLog(suite.T().TempDir())
	suite.Require().NoError(err)

	suite.NoError(log.Event(EventRunInitialized, map[string]any{"run_id": "abc123def456"}))
	suite.NoError(log.Append(EventStateTransition, RunIdle, RunPreflightComplete, nil))
	suite.NoError(log.Event(EventRunComplete, nil))

	records, err := log.Read()
	suite.Require().NoError(err)
	suite.Require().Len(records, 3)
	suite.Equal(EventRunInitialized, records[0].Event)
	suite.Equal(EventStateTransition, records[1].Event)
	suite.Equal(RunPreflightComplete, records[1].To)
	suite.Equal(EventRunComplete, records[2].Event)
}

func (suite *AuditTestSuite) TestTimestampsNeverDecrease() {
	log, err := NewAuditLog(suite.T().TempDir())
	suite.Require().NoError(err)

	// Simulate a clock that steps backwards between appends.
	times := []time.Time{
		time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC),
		time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC),
		time.Date(2024, 3, 1, 12, 0, 9, 0, time.UTC),
	}
	idx := 0
	log.now = func() time.Time {
		t := times[idx]
		idx++

		return t
	}

	for range times {
		suite.NoError(log.Event(EventSnapshotVerified, nil))
	}

	records, err := log.Read()
	suite.Require().NoError(err)
	suite.Require().Len(records, 3)

	for i := 1; i < len(records); i++ {
		suite.False(records[i].Timestamp.Before(records[i-1].Timestamp))
	}

	// The backwards step was clamped to the previous timestamp.
	suite.Equal(records[0].Timestamp, records[1].Timestamp)
}

func (suite *AuditTestSuite) TestMonotonicAcrossReopen() {
	dir := suite.T().TempDir()

	log, err := NewAuditLog(dir)
	suite.Require().NoError(err)

	future := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return future }
	suite.NoError(log.Event(EventRunInitialized, nil))

	// A reopened log recovers the last timestamp and keeps clamping.
	reopened, err := NewAuditLog(dir)
	suite.Require().NoError(err)
	suite.NoError(reopened.Event(EventRunComplete, nil))

	records, err := reopened.Read()
	suite.Require().NoError(err)
	suite.Require().Len(records, 2)
	suite.False(records[1].Timestamp.Before(records[0].Timestamp))
}

func (suite *AuditTestSuite) TestReadMissingFile() {
	log, err := NewAuditLog(suite.T().TempDir())
	suite.Require().NoError(err)

	records, err := log.Read()
	suite.NoError(err)
	suite.Empty(records)
}
