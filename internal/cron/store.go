// Package cron schedules recurring Agent prompts whose replies are
// delivered to a configured chat.
package cron

import (
	"fmt"
	"sort"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/iris/internal/store"
)

const runLogLimit = 20

// RunEntry records one job execution.
type RunEntry struct {
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// Job is one persisted cron job. AgentSessionID caches the Agent session
// reused across fires.
type Job struct {
	Name           string     `json:"name"`
	Schedule       string     `json:"schedule"`
	Prompt         string     `json:"prompt"`
	Channel        string     `json:"channel"`
	ChatID         string     `json:"chatId"`
	Enabled        bool       `json:"enabled"`
	CreatedAt      time.Time  `json:"createdAt"`
	AgentSessionID string     `json:"agentSessionId,omitempty"`
	RunLog         []RunEntry `json:"runLog,omitempty"`
}

// Store persists jobs in cron-jobs.json. Adding a job with an existing name
// replaces it.
type Store struct {
	file *store.JSONFile
	now  func() time.Time
}

// NewStore opens cron-jobs.json under dir.
func NewStore(dir string) (*Store, error) {
	f, err := store.NewJSONFile(dir + "/cron-jobs.json")
	if err != nil {
		return nil, err
	}
	return &Store{file: f, now: time.Now}, nil
}

// Add validates the schedule and upserts the job by name. A replaced job
// keeps its run log and cached session only if the schedule is unchanged.
func (s *Store) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("cron job name is required")
	}
	if !gronx.New().IsValid(job.Schedule) {
		return fmt.Errorf("invalid cron expression %q", job.Schedule)
	}
	job.CreatedAt = s.now()

	return s.file.Update(func(decode func(any) error) (any, error) {
		var jobs []Job
		if err := decode(&jobs); err != nil {
			return nil, err
		}
		out := jobs[:0]
		for _, j := range jobs {
			if j.Name != job.Name {
				out = append(out, j)
				continue
			}
			if j.Schedule == job.Schedule {
				job.RunLog = j.RunLog
				job.AgentSessionID = j.AgentSessionID
				job.CreatedAt = j.CreatedAt
			}
		}
		out = append(out, job)
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out, nil
	})
}

// Remove deletes a job by name; ok is false when no such job exists.
func (s *Store) Remove(name string) (bool, error) {
	removed := false
	err := s.file.Update(func(decode func(any) error) (any, error) {
		var jobs []Job
		if err := decode(&jobs); err != nil {
			return nil, err
		}
		out := jobs[:0]
		for _, j := range jobs {
			if j.Name == name {
				removed = true
				continue
			}
			out = append(out, j)
		}
		return out, nil
	})
	return removed, err
}

// List returns all jobs sorted by name.
func (s *Store) List() ([]Job, error) {
	var jobs []Job
	if err := s.file.Load(&jobs); err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs, nil
}

// Get returns one job by name.
func (s *Store) Get(name string) (Job, bool, error) {
	jobs, err := s.List()
	if err != nil {
		return Job{}, false, err
	}
	for _, j := range jobs {
		if j.Name == name {
			return j, true, nil
		}
	}
	return Job{}, false, nil
}

// mutate applies fn to the named job under the file lock.
func (s *Store) mutate(name string, fn func(*Job)) error {
	return s.file.Update(func(decode func(any) error) (any, error) {
		var jobs []Job
		if err := decode(&jobs); err != nil {
			return nil, err
		}
		for i := range jobs {
			if jobs[i].Name == name {
				fn(&jobs[i])
				break
			}
		}
		return jobs, nil
	})
}

// CacheSession records the Agent session a job reuses.
func (s *Store) CacheSession(name, sessionID string) error {
	return s.mutate(name, func(j *Job) { j.AgentSessionID = sessionID })
}

// AppendRun appends a run-log entry, keeping the most recent runLogLimit.
func (s *Store) AppendRun(name string, entry RunEntry) error {
	return s.mutate(name, func(j *Job) {
		j.RunLog = append(j.RunLog, entry)
		if len(j.RunLog) > runLogLimit {
			j.RunLog = j.RunLog[len(j.RunLog)-runLogLimit:]
		}
	})
}
