package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Job asks the worker to run the analysis pipeline for one document.
type Job struct {
	DocumentID string
	UserID     string
}

// jobPayload is the wire form of a Job inside the stream entry.
type jobPayload struct {
	ID     string `json:"_id"`
	UserID string `json:"userId"`
}

func (j Job) validate() error {
	if j.DocumentID == "" {
		return fmt.Errorf("job: missing document id")
	}
	if j.UserID == "" {
		return fmt.Errorf("job: missing user id")
	}
	return nil
}

func encodePayload(j Job) (string, error) {
	b, err := json.Marshal(jobPayload{ID: j.DocumentID, UserID: j.UserID})
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}
	return string(b), nil
}

// Message is one delivery of a job from the stream.
type Message struct {
	ID      string
	JobID   string
	Job     Job
	Attempt int
	TraceID string
	Raw     redis.XMessage
}

// EnqueuedAt is when this delivery was written to the stream, taken from the
// millisecond part of the entry id.
func (m Message) EnqueuedAt() time.Time {
	ms, _, ok := strings.Cut(m.ID, "-")
	if !ok {
		return time.Time{}
	}
	n, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(n)
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	jobID, err := parseString(msg.Values, "job_id")
	if err != nil {
		return Message{}, err
	}
	if jobID == "" {
		return Message{}, fmt.Errorf("empty job_id")
	}

	raw, err := parseString(msg.Values, "payload")
	if err != nil {
		return Message{}, err
	}
	var p jobPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Message{}, fmt.Errorf("parsing payload: %w", err)
	}
	job := Job{DocumentID: p.ID, UserID: p.UserID}
	if err := job.validate(); err != nil {
		return Message{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt <= 0 {
		attempt = 1
	}

	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:      msg.ID,
		JobID:   jobID,
		Job:     job,
		Attempt: attempt,
		TraceID: traceID,
		Raw:     msg,
	}, nil
}

func messageValues(msg Message, attempt int) (map[string]any, error) {
	payload, err := encodePayload(msg.Job)
	if err != nil {
		return nil, err
	}
	values := map[string]any{
		"job_id":  msg.JobID,
		"payload": payload,
		"attempt": attempt,
	}
	if msg.TraceID != "" {
		values["trace_id"] = msg.TraceID
	}
	return values, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}
