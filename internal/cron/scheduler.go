package cron

import (
	"context"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/rs/zerolog/log"

	"github.com/nextlevelbuilder/iris/internal/agentapi"
	"github.com/nextlevelbuilder/iris/internal/bus"
	"github.com/nextlevelbuilder/iris/internal/config"
	"github.com/nextlevelbuilder/iris/internal/textsplit"
)

// Enqueuer is the outbound queue surface the scheduler needs.
type Enqueuer interface {
	Enqueue(msg bus.OutboundMessage)
}

// Scheduler fires persisted jobs on a minute ticker. A job still running
// when its schedule fires again is skipped for that fire.
type Scheduler struct {
	store  *Store
	agent  *agentapi.Client
	queue  Enqueuer
	maxFor func(channelID string) int // outbound text limit per channel, nil = telegram default

	gron    *gronx.Gronx
	running sync.Map // job name → true while executing
	now     func() time.Time
}

// NewScheduler wires a scheduler. maxFor may be nil.
func NewScheduler(store *Store, agent *agentapi.Client, queue Enqueuer, maxFor func(string) int) *Scheduler {
	return &Scheduler{
		store:  store,
		agent:  agent,
		queue:  queue,
		maxFor: maxFor,
		gron:   gronx.New(),
		now:    time.Now,
	}
}

// Seed merges config-declared jobs into the persisted store.
func (s *Scheduler) Seed(jobs []config.CronJobConfig) error {
	for _, jc := range jobs {
		err := s.store.Add(Job{
			Name:     jc.Name,
			Schedule: jc.Schedule,
			Prompt:   jc.Prompt,
			Channel:  jc.Channel,
			ChatID:   jc.ChatID,
			Enabled:  jc.Enabled,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Run checks due jobs once per minute until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue fires every enabled job whose expression matches the current
// minute. Exposed for tests.
func (s *Scheduler) RunDue(ctx context.Context) {
	jobs, err := s.store.List()
	if err != nil {
		log.Error().Err(err).Msg("cron: loading jobs failed")
		return
	}
	now := s.now()
	for _, job := range jobs {
		if !job.Enabled {
			continue
		}
		due, err := s.gron.IsDue(job.Schedule, now)
		if err != nil {
			log.Warn().Str("job", job.Name).Err(err).Msg("cron: bad schedule")
			continue
		}
		if !due {
			continue
		}
		if _, already := s.running.LoadOrStore(job.Name, true); already {
			log.Warn().Str("job", job.Name).Msg("cron: previous run still in progress, skipping fire")
			continue
		}
		go func(job Job) {
			defer s.running.Delete(job.Name)
			s.execute(ctx, job)
		}(job)
	}
}

// execute runs one job: resolve the cached session, send the prompt
// synchronously, deliver the reply, log the run.
func (s *Scheduler) execute(ctx context.Context, job Job) {
	entry := RunEntry{StartedAt: s.now()}
	reply, err := s.runPrompt(ctx, job)
	entry.CompletedAt = s.now()

	if err != nil {
		entry.Error = err.Error()
		log.Error().Str("job", job.Name).Err(err).Msg("cron: job failed")
	} else {
		entry.Success = true
		s.deliver(job, reply)
	}
	if logErr := s.store.AppendRun(job.Name, entry); logErr != nil {
		log.Warn().Str("job", job.Name).Err(logErr).Msg("cron: run log write failed")
	}
}

func (s *Scheduler) runPrompt(ctx context.Context, job Job) (string, error) {
	sessionID := job.AgentSessionID
	if sessionID == "" {
		sess, err := s.agent.CreateSession(ctx, "cron: "+job.Name)
		if err != nil {
			return "", err
		}
		sessionID = sess.ID
		if err := s.store.CacheSession(job.Name, sessionID); err != nil {
			log.Warn().Str("job", job.Name).Err(err).Msg("cron: session cache write failed")
		}
	}
	return s.agent.SendMessage(ctx, sessionID, job.Prompt)
}

func (s *Scheduler) deliver(job Job, reply string) {
	if reply == "" {
		return
	}
	max := textsplit.TelegramMax
	if s.maxFor != nil {
		if m := s.maxFor(job.Channel); m > 0 {
			max = m
		}
	}
	for _, chunk := range textsplit.Chunk(reply, max) {
		s.queue.Enqueue(bus.OutboundMessage{ChannelID: job.Channel, ChatID: job.ChatID, Text: chunk})
	}
}
