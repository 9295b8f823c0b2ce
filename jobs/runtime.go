package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/johnjansen/switchboard/notify"
)

// Task types processed by the runtime.
const (
	TaskSessionsCleanup = "sessions:cleanup"
	TaskLinksRegenerate = "links:regenerate"
	TaskLinksKeepAlive  = "links:keepalive"
	TaskNotifyDeliver   = "notify:deliver"
)

// Reaper sweeps dead endpoints and stale sessions.
type Reaper interface {
	ReapOnce() int
}

// Regenerator drives persistent-link maintenance passes.
type Regenerator interface {
	RegenerateOnce(ctx context.Context) int
	KeepAliveOnce(ctx context.Context) int
}

// Runtime encapsulates the Asynq client, server, scheduler, and mux
type Runtime struct {
	Client    *asynq.Client
	Server    *asynq.Server
	Scheduler *asynq.Scheduler
	Mux       *asynq.ServeMux
	config    Config
}

// Config holds job runtime configuration
type Config struct {
	RedisURL    string
	Concurrency int
	Queues      map[string]int // Queue priorities
}

// NewRuntime creates a new job runtime. With an empty Redis URL it returns
// a no-op runtime: Enqueue logs and succeeds, Start and Stop do nothing.
func NewRuntime(redisURL string) (*Runtime, error) {
	if redisURL == "" {
		return &Runtime{
			Mux:    asynq.NewServeMux(),
			config: Config{RedisURL: redisURL},
		}, nil
	}

	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	queues := map[string]int{
		"critical": 6,
		"default":  3,
		"low":      1,
	}

	client := asynq.NewClient(opt)

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency:  10,
			Queues:       queues,
			ErrorHandler: asynq.ErrorHandlerFunc(handleError),
			Logger:       &logger{},
		},
	)

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Logger: &logger{},
	})

	return &Runtime{
		Client:    client,
		Server:    server,
		Scheduler: scheduler,
		Mux:       asynq.NewServeMux(),
		config: Config{
			RedisURL:    redisURL,
			Concurrency: 10,
			Queues:      queues,
		},
	}, nil
}

// RegisterMaintenance wires the periodic maintenance handlers and their
// schedule entries: a session sweep every minute and a link regeneration
// plus keep-alive pass every five minutes. Notification delivery jobs are
// handed to sender.
func (r *Runtime) RegisterMaintenance(reaper Reaper, regen Regenerator, sender notify.Sender) error {
	if r.Mux == nil {
		return nil
	}

	r.Mux.HandleFunc(TaskSessionsCleanup, func(ctx context.Context, t *asynq.Task) error {
		if reaper == nil {
			return nil
		}
		if n := reaper.ReapOnce(); n > 0 {
			log.Printf("Jobs: Reaped %d sessions", n)
		}
		return nil
	})

	r.Mux.HandleFunc(TaskLinksRegenerate, func(ctx context.Context, t *asynq.Task) error {
		if regen == nil {
			return nil
		}
		if n := regen.RegenerateOnce(ctx); n > 0 {
			log.Printf("Jobs: Regenerated %d links", n)
		}
		return nil
	})

	r.Mux.HandleFunc(TaskLinksKeepAlive, func(ctx context.Context, t *asynq.Task) error {
		if regen == nil {
			return nil
		}
		if n := regen.KeepAliveOnce(ctx); n > 0 {
			log.Printf("Jobs: Extended %d links", n)
		}
		return nil
	})

	r.Mux.HandleFunc(TaskNotifyDeliver, func(ctx context.Context, t *asynq.Task) error {
		if sender == nil {
			return nil
		}
		var p NotifyPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("failed to decode notification payload: %w", err)
		}
		return sender.Send(ctx, notify.Message{
			ID:        p.ID,
			LinkID:    p.LinkID,
			Kind:      p.Kind,
			Reason:    p.Reason,
			CreatedAt: p.CreatedAt,
		})
	})

	if r.Scheduler == nil {
		return nil
	}

	entries := []struct {
		spec string
		task string
	}{
		{"@every 60s", TaskSessionsCleanup},
		{"@every 5m", TaskLinksRegenerate},
		{"@every 5m", TaskLinksKeepAlive},
	}
	for _, e := range entries {
		if _, err := r.Scheduler.Register(e.spec, asynq.NewTask(e.task, nil)); err != nil {
			return fmt.Errorf("failed to register %s: %w", e.task, err)
		}
	}
	return nil
}

// Start begins processing jobs and firing schedule entries.
func (r *Runtime) Start() error {
	if r.Server == nil {
		log.Println("Jobs: No Redis configured, skipping job worker")
		return nil
	}

	log.Println("Jobs: Starting worker...")
	if err := r.Server.Start(r.Mux); err != nil {
		return err
	}
	if r.Scheduler != nil {
		if err := r.Scheduler.Start(); err != nil {
			r.Server.Shutdown()
			return err
		}
	}
	return nil
}

// Stop gracefully shuts down the job processor
func (r *Runtime) Stop() error {
	if r.Server == nil {
		return nil
	}

	log.Println("Jobs: Shutting down worker...")
	if r.Scheduler != nil {
		r.Scheduler.Shutdown()
	}
	r.Server.Shutdown()
	return r.Client.Close()
}

// Enqueue adds a job to the queue
func (r *Runtime) Enqueue(taskType string, payload interface{}, opts ...asynq.Option) error {
	if r.Client == nil {
		log.Printf("Jobs: Would enqueue %s (Redis not configured)", taskType)
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	task := asynq.NewTask(taskType, data, opts...)
	info, err := r.Client.Enqueue(task)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("Jobs: Enqueued %s (id=%s queue=%s)", taskType, info.ID, info.Queue)
	return nil
}

// EnqueueIn schedules a job to run after a delay
func (r *Runtime) EnqueueIn(delay time.Duration, taskType string, payload interface{}) error {
	return r.Enqueue(taskType, payload, asynq.ProcessIn(delay))
}

// EnqueueAt schedules a job to run at a specific time
func (r *Runtime) EnqueueAt(at time.Time, taskType string, payload interface{}) error {
	return r.Enqueue(taskType, payload, asynq.ProcessAt(at))
}

// NotifyPayload carries an overlay notification for async delivery.
type NotifyPayload struct {
	ID        string    `json:"id"`
	LinkID    string    `json:"linkId"`
	Kind      string    `json:"kind"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EnqueueNotification is a helper to enqueue a notification delivery job.
func (r *Runtime) EnqueueNotification(p NotifyPayload) error {
	return r.Enqueue(TaskNotifyDeliver, p, asynq.Queue("low"))
}

// NotifySender returns the sender producers should emit through. With Redis
// configured, deliveries are enqueued as notify:deliver jobs and the worker
// hands them to direct; without Redis, direct is returned unchanged.
func (r *Runtime) NotifySender(direct notify.Sender) notify.Sender {
	if r.Client == nil {
		return direct
	}
	return &queueSender{runtime: r}
}

// queueSender defers delivery to the job queue.
type queueSender struct {
	runtime *Runtime
}

func (s *queueSender) Send(ctx context.Context, msg notify.Message) error {
	return s.runtime.EnqueueNotification(NotifyPayload{
		ID:        msg.ID,
		LinkID:    msg.LinkID,
		Kind:      msg.Kind,
		Reason:    msg.Reason,
		CreatedAt: msg.CreatedAt,
	})
}

// Error handling
func handleError(ctx context.Context, task *asynq.Task, err error) {
	log.Printf("Jobs: Error processing %s: %v", task.Type(), err)
}

// Custom logger for Asynq
type logger struct{}

func (l *logger) Debug(args ...interface{}) {
	// Suppress debug logs
}

func (l *logger) Info(args ...interface{}) {
	log.Println(append([]interface{}{"Jobs:"}, args...)...)
}

func (l *logger) Warn(args ...interface{}) {
	log.Println(append([]interface{}{"Jobs: WARN:"}, args...)...)
}

func (l *logger) Error(args ...interface{}) {
	log.Println(append([]interface{}{"Jobs: ERROR:"}, args...)...)
}

func (l *logger) Fatal(args ...interface{}) {
	log.Fatal(append([]interface{}{"Jobs: FATAL:"}, args...)...)
}
