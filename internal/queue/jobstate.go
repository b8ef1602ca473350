package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrJobNotFound is returned when cancelling a job id that was never
	// enqueued, whose state has expired, or that belongs to another user.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobStarted is returned when cancelling a job that is already running,
	// finished or cancelled.
	ErrJobStarted = errors.New("job already started")
)

// JobStateTTL bounds how long cancellation bookkeeping is kept per job.
const JobStateTTL = 24 * time.Hour

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateStarted   JobState = "started"
	JobStateCancelled JobState = "cancelled"
)

// Job state lives in a hash: state plus the owning user.
const (
	jobFieldState = "state"
	jobFieldUser  = "user_id"
)

func jobStateKey(jobID string) string {
	return "job:" + jobID
}

// cancelScript: 1 = cancelled, 0 = unknown job or not the owner,
// -1 = not queued any more.
var cancelScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], 'state')
if not s then
	return 0
end
if redis.call('HGET', KEYS[1], 'user_id') ~= ARGV[2] then
	return 0
end
if s ~= 'queued' then
	return -1
end
redis.call('HSET', KEYS[1], 'state', 'cancelled')
redis.call('EXPIRE', KEYS[1], ARGV[1])
return 1
`)

// startScript: 1 = start, 0 = cancelled. A missing key means the state
// expired; the job runs and the document claim decides.
var startScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], 'state')
if s == 'cancelled' then
	return 0
end
redis.call('HSET', KEYS[1], 'state', 'started')
redis.call('EXPIRE', KEYS[1], ARGV[1])
return 1
`)

// queueState writes the initial state of a freshly enqueued job.
func queueState(ctx context.Context, pipe redis.Pipeliner, jobID, userID string) {
	key := jobStateKey(jobID)
	pipe.HSet(ctx, key, jobFieldState, string(JobStateQueued), jobFieldUser, userID)
	pipe.Expire(ctx, key, JobStateTTL)
}

// JobStates tracks queued/started/cancelled per job so that queued jobs can
// be cancelled without touching the stream.
type JobStates struct {
	client redis.Cmdable
}

func NewJobStates(client redis.Cmdable) *JobStates {
	return &JobStates{client: client}
}

// Cancel withdraws a queued job on behalf of userID. Jobs owned by someone
// else report ErrJobNotFound.
func (s *JobStates) Cancel(ctx context.Context, jobID, userID string) error {
	res, err := cancelScript.Run(ctx, s.client, []string{jobStateKey(jobID)}, int(JobStateTTL.Seconds()), userID).Int()
	if err != nil {
		return fmt.Errorf("cancel job %s: %w", jobID, err)
	}
	switch res {
	case 1:
		return nil
	case 0:
		return ErrJobNotFound
	default:
		return ErrJobStarted
	}
}

// MarkStarted moves a job to started. It returns false when the job was
// cancelled while queued and must be skipped.
func (s *JobStates) MarkStarted(ctx context.Context, jobID string) (bool, error) {
	res, err := startScript.Run(ctx, s.client, []string{jobStateKey(jobID)}, int(JobStateTTL.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("mark job %s started: %w", jobID, err)
	}
	return res == 1, nil
}

func (s *JobStates) Get(ctx context.Context, jobID string) (JobState, error) {
	v, err := s.client.HGet(ctx, jobStateKey(jobID), jobFieldState).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrJobNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get job %s state: %w", jobID, err)
	}
	return JobState(v), nil
}
