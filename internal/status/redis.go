package status

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/cuongbtq/labelscan/internal/domain"
	"github.com/cuongbtq/labelscan/shared/redis"
	goredis "github.com/redis/go-redis/v9"
)

// createScript writes a PENDING record unless the key already exists.
// KEYS[1] job key; ARGV: job_id, fingerprint, status, now, ttl_ms
var createScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("HSET", KEYS[1],
	"job_id", ARGV[1],
	"fingerprint", ARGV[2],
	"status", ARGV[3],
	"attempts", "0",
	"created_at", ARGV[4],
	"updated_at", ARGV[4])
if tonumber(ARGV[5]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[5])
end
return 1
`)

// transitionScript is a compare-and-set on the status field.
// KEYS[1] job key; ARGV: target, now, ttl_ms, n, n allowed source states, then field/value pairs.
// Returns 1 on success, 0 when the key is missing, or the current status when
// the transition is not allowed.
var transitionScript = goredis.NewScript(`
local current = redis.call("HGET", KEYS[1], "status")
if not current then
	return 0
end
local n = tonumber(ARGV[4])
local allowed = false
for i = 5, 4 + n do
	if ARGV[i] == current then
		allowed = true
	end
end
if not allowed then
	return current
end
redis.call("HSET", KEYS[1], "status", ARGV[1], "updated_at", ARGV[2])
for i = 5 + n, #ARGV, 2 do
	redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
end
if tonumber(ARGV[3]) > 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
return 1
`)

// Redis keeps each job as a hash under <prefix>:job:<id>
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedis creates a Redis backed tracker. A zero ttl keeps records forever.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (r *Redis) key(jobID string) string {
	return r.client.Key("job", jobID)
}

func (r *Redis) timestamp() string {
	return r.now().UTC().Format(time.RFC3339Nano)
}

func (r *Redis) Create(ctx context.Context, jobID string, fp domain.Fingerprint) error {
	created, err := createScript.Run(ctx, r.client.GetClient(), []string{r.key(jobID)},
		jobID, string(fp), string(domain.JobStatusPending), r.timestamp(), r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return domain.NewInfrastructureError("status create", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, jobID)
	}
	return nil
}

func (r *Redis) MarkRunning(ctx context.Context, jobID string, attempt int) error {
	return r.transition(ctx, jobID, domain.JobStatusRunning, "attempts", strconv.Itoa(attempt))
}

func (r *Redis) MarkSuccess(ctx context.Context, jobID string, result json.RawMessage) error {
	return r.transition(ctx, jobID, domain.JobStatusSuccess, "result", string(result), "error", "")
}

func (r *Redis) MarkFailure(ctx context.Context, jobID string, errMsg string) error {
	return r.transition(ctx, jobID, domain.JobStatusFailure, "error", errMsg)
}

func (r *Redis) transition(ctx context.Context, jobID string, to domain.State, fields ...string) error {
	from := domain.SourcesOf(to)

	args := []any{string(to), r.timestamp(), r.ttl.Milliseconds(), len(from)}
	for _, s := range from {
		args = append(args, string(s))
	}
	for _, f := range fields {
		args = append(args, f)
	}

	res, err := transitionScript.Run(ctx, r.client.GetClient(), []string{r.key(jobID)}, args...).Result()
	if err != nil {
		return domain.NewInfrastructureError("status update", err)
	}

	switch v := res.(type) {
	case int64:
		if v == 0 {
			return fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
		}
		return nil
	case string:
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, v, to)
	default:
		return domain.NewInfrastructureError("status update", fmt.Errorf("unexpected script reply %T", res))
	}
}

func (r *Redis) Get(ctx context.Context, jobID string) (*domain.JobStatus, error) {
	fields, err := r.client.GetClient().HGetAll(ctx, r.key(jobID)).Result()
	if err != nil {
		return nil, domain.NewInfrastructureError("status get", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}

	s, err := parseHash(fields)
	if err != nil {
		return nil, domain.NewInfrastructureError("status get", err)
	}
	return s, nil
}

func parseHash(fields map[string]string) (*domain.JobStatus, error) {
	s := &domain.JobStatus{
		JobID:       fields["job_id"],
		Fingerprint: domain.Fingerprint(fields["fingerprint"]),
		State:       domain.State(fields["status"]),
		Error:       fields["error"],
	}
	if !s.State.Valid() {
		return nil, fmt.Errorf("unknown status %q", fields["status"])
	}

	if v := fields["result"]; v != "" {
		s.Result = json.RawMessage(v)
	}

	var err error
	if s.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return nil, fmt.Errorf("invalid attempts: %w", err)
	}
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	return s, nil
}
