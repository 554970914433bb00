// Package runstatus keeps the most recent run report of every automation job in Redis.
package runstatus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pipeline_backend/internal/automation/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "automation:run:"

// Store implements ports.RunStatusStore. A nil store discards reports.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func key(job string) string {
	return keyPrefix + job
}

func (s *Store) Save(ctx context.Context, report domain.RunReport) error {
	if s == nil || s.client == nil {
		return nil
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal run report: %w", err)
	}
	if err := s.client.Set(ctx, key(report.Job), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save run report: %w", err)
	}
	return nil
}

// Latest returns the stored report per job. Jobs that never ran, or whose
// report expired, are absent from the map.
func (s *Store) Latest(ctx context.Context, jobs []string) (map[string]domain.RunReport, error) {
	result := make(map[string]domain.RunReport, len(jobs))
	if s == nil || s.client == nil || len(jobs) == 0 {
		return result, nil
	}

	keys := make([]string, len(jobs))
	for i, job := range jobs {
		keys[i] = key(job)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load run reports: %w", err)
	}

	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var report domain.RunReport
		if err := json.Unmarshal([]byte(raw), &report); err != nil {
			return nil, fmt.Errorf("decode run report for %s: %w", jobs[i], err)
		}
		result[jobs[i]] = report
	}
	return result, nil
}
