package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/juror/internal/core/domain"
)

const journalKey = "juror:votes"

// VoteJournal implements storage.VoteRepository on a Redis sorted set
// scored by submission time.
type VoteJournal struct {
	rdb    *redis.Client
	maxLen int64
}

// NewVoteJournal creates a journal keeping at most maxLen entries. A
// non-positive maxLen keeps everything until pruned.
func NewVoteJournal(client *Client, maxLen int64) *VoteJournal {
	return &VoteJournal{rdb: client.rdb, maxLen: maxLen}
}

// RecordVote appends a vote to the journal.
func (j *VoteJournal) RecordVote(ctx context.Context, vote *domain.VoteRecord) error {
	member, err := encodeVote(vote)
	if err != nil {
		return err
	}

	pipe := j.rdb.TxPipeline()
	pipe.ZAdd(ctx, journalKey, redis.Z{Score: score(vote.VotedAt), Member: member})
	if j.maxLen > 0 {
		pipe.ZRemRangeByRank(ctx, journalKey, 0, -j.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to journal vote: %w", err)
	}
	return nil
}

// RecentVotes returns the newest votes first.
func (j *VoteJournal) RecentVotes(ctx context.Context, limit int) ([]*domain.VoteRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := j.rdb.ZRevRange(ctx, journalKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange failed: %w", err)
	}

	votes := make([]*domain.VoteRecord, 0, len(members))
	for _, m := range members {
		v, err := decodeVote(m)
		if err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, nil
}

// DeleteVotesBefore drops entries submitted before t.
func (j *VoteJournal) DeleteVotesBefore(ctx context.Context, t time.Time) (int64, error) {
	// Exclusive upper bound
	maxScore := "(" + strconv.FormatFloat(score(t), 'f', -1, 64)
	n, err := j.rdb.ZRemRangeByScore(ctx, journalKey, "-inf", maxScore).Result()
	if err != nil {
		return 0, fmt.Errorf("zremrangebyscore failed: %w", err)
	}
	return n, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func encodeVote(v *domain.VoteRecord) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal vote: %w", err)
	}
	return string(data), nil
}

func decodeVote(member string) (*domain.VoteRecord, error) {
	var v domain.VoteRecord
	if err := json.Unmarshal([]byte(member), &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vote: %w", err)
	}
	return &v, nil
}
