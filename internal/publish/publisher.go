// Package publish provides NATS publication of pipeline lifecycle and
// handover events. Publication is optional: a pipeline without a NATS URL
// runs identically, just silently.
package publish

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/asgard/heimdall/internal/handover"
	"github.com/asgard/heimdall/internal/logging"
)

// Subjects.
const (
	SubjectStageCompleted = "heimdall.stage.completed"
	SubjectHandoverEvent  = "heimdall.handover.event"
)

// Publisher publishes pipeline events to NATS.
type Publisher struct {
	nc    *nats.Conn
	log   *logging.Logger
	mu    sync.Mutex
	stats Stats
}

// Stats tracks publishing statistics.
type Stats struct {
	StagesPublished int64
	EventsPublished int64
	Errors          int64
	LastPublished   time.Time
}

// Config holds publisher configuration.
type Config struct {
	URL           string
	ReconnectWait time.Duration
	MaxReconnects int
}

// New connects to NATS. An empty URL returns a nil publisher, which every
// method treats as disabled.
func New(cfg Config, log *logging.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, nil
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 60
	}

	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to NATS: %s", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS: %v", err)
			}
		}),
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect NATS: %w", err)
	}
	return &Publisher{nc: nc, log: log}, nil
}

// StageCompleted implements pipeline.Notifier.
func (p *Publisher) StageCompleted(stage, runID string, summary map[string]interface{}) error {
	if p == nil {
		return nil
	}
	msg := struct {
		Stage     string                 `json:"stage"`
		RunID     string                 `json:"run_id"`
		Timestamp time.Time              `json:"timestamp"`
		Summary   map[string]interface{} `json:"summary"`
	}{stage, runID, time.Now().UTC(), summary}
	return p.publish(SubjectStageCompleted, msg, &p.stats.StagesPublished)
}

// HandoverEvents publishes the stage 6 event stream, one message per event.
func (p *Publisher) HandoverEvents(runID string, events []handover.Record) error {
	if p == nil {
		return nil
	}
	for _, e := range events {
		msg := struct {
			RunID string          `json:"run_id"`
			Event handover.Record `json:"event"`
		}{runID, e}
		if err := p.publish(SubjectHandoverEvent, msg, &p.stats.EventsPublished); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(subject string, v interface{}, counter *int64) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if err := p.nc.Publish(subject, raw); err != nil {
		p.mu.Lock()
		p.stats.Errors++
		p.mu.Unlock()
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.mu.Lock()
	*counter++
	p.stats.LastPublished = time.Now().UTC()
	p.mu.Unlock()
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p == nil || p.nc == nil {
		return
	}
	p.nc.Drain()
	p.nc.Close()
}
