package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// CandidateSessionKey returns the cache key for a candidate's login session
func (r *CacheKeyStruct) CandidateSessionKey(candidateID int) string {
	return fmt.Sprintf("login:%d", candidateID)
}

// TestPaperKey returns the cache key for a test's paper payload
func (r *CacheKeyStruct) TestPaperKey(testID string) string {
	return fmt.Sprintf("test:%s:paper", testID)
}

// TestAnswerKey returns the cache key for a test's answer key
func (r *CacheKeyStruct) TestAnswerKey(testID string) string {
	return fmt.Sprintf("test:%s:key", testID)
}

// ActiveAttemptKey returns the cache key for a candidate's open attempt on a test
func (r *CacheKeyStruct) ActiveAttemptKey(testID string, candidateID int) string {
	return fmt.Sprintf("candidate:%d:test:%s:attempt", candidateID, testID)
}

// AttemptOwnerKey returns the cache key holding the candidate and test of an attempt
func (r *CacheKeyStruct) AttemptOwnerKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:owner", attemptID)
}

// AttemptResponsesKey returns the cache key for an attempt's buffered responses
func (r *CacheKeyStruct) AttemptResponsesKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:responses", attemptID)
}

// AttemptResultKey returns the cache key for an attempt's result
func (r *CacheKeyStruct) AttemptResultKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:result", attemptID)
}

// AttemptWarningsKey returns the cache key for an attempt's violation counter
func (r *CacheKeyStruct) AttemptWarningsKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:warnings", attemptID)
}

// TabHeartbeatKey returns the cache key for a candidate's tab heartbeat on a test
func (r *CacheKeyStruct) TabHeartbeatKey(testID string, candidateID int) string {
	return fmt.Sprintf("candidate:%d:test:%s:heartbeat", candidateID, testID)
}

// SnapshotKey returns the cache key for an audit frame of an attempt
func (r *CacheKeyStruct) SnapshotKey(attemptID string, unix int64) string {
	return fmt.Sprintf("attempt:%s:snapshot:%d", attemptID, unix)
}

// TestMonitorChannel returns the Redis PubSub channel name for a test monitor
func (r *CacheKeyStruct) TestMonitorChannel(testID string) string {
	return fmt.Sprintf("test:%s:monitor", testID)
}

var CacheKey = NewCacheKeyStruct()
