package transport

import (
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// StreamManager manages the JetStream streams backing durable swarm
// traffic: task assignment/report history and intervention delivery,
// both of which benefit from replay if a subscriber reconnects mid-flight.
// Heartbeats and status are deliberately left off JetStream — they are
// high-frequency and only the latest value matters, so plain core NATS
// pub/sub (see handler.go) is the right fit.
type StreamManager struct {
	js nats.JetStreamContext
}

// NewStreamManager creates a new StreamManager with JetStream context
func NewStreamManager(nc *nats.Conn) (*StreamManager, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}

	return &StreamManager{
		js: js,
	}, nil
}

// SetupStreams creates or updates all required JetStream streams
func (sm *StreamManager) SetupStreams() error {
	streams := []nats.StreamConfig{
		{
			Name:        "TASKS",
			Description: "Task assignment and completion report traffic",
			Subjects:    []string{"agent.*.task.>"},
			Storage:     nats.FileStorage,
			MaxAge:      24 * time.Hour,
			Retention:   nats.LimitsPolicy,
		},
		{
			Name:        "INTERVENTIONS",
			Description: "Intervention delivery and acknowledgment traffic",
			Subjects:    []string{"swarm.*.intervention", "swarm.*.intervention.ack"},
			Storage:     nats.FileStorage,
			MaxAge:      7 * 24 * time.Hour,
			Retention:   nats.LimitsPolicy,
		},
		{
			Name:        "VOTES",
			Description: "Consensus vote requests, replayable for audit",
			Subjects:    []string{"agent.*.vote"},
			Storage:     nats.MemoryStorage,
			MaxAge:      1 * time.Hour,
			Retention:   nats.LimitsPolicy,
		},
	}

	for _, streamCfg := range streams {
		if err := sm.createOrUpdateStream(streamCfg); err != nil {
			return err
		}
	}

	log.Println("[TRANSPORT-STREAMS] all streams configured successfully")
	return nil
}

// createOrUpdateStream creates a new stream or updates an existing one
func (sm *StreamManager) createOrUpdateStream(cfg nats.StreamConfig) error {
	info, err := sm.js.StreamInfo(cfg.Name)

	if err != nil {
		if err == nats.ErrStreamNotFound {
			log.Printf("[TRANSPORT-STREAMS] creating stream %s with subjects %v", cfg.Name, cfg.Subjects)
			_, err := sm.js.AddStream(&cfg)
			if err != nil {
				log.Printf("[TRANSPORT-STREAMS] error creating stream %s: %v", cfg.Name, err)
				return err
			}
			log.Printf("[TRANSPORT-STREAMS] stream %s created successfully", cfg.Name)
			return nil
		}

		log.Printf("[TRANSPORT-STREAMS] error getting stream info for %s: %v", cfg.Name, err)
		return err
	}

	log.Printf("[TRANSPORT-STREAMS] stream %s already exists, updating configuration", cfg.Name)
	_, err = sm.js.UpdateStream(&cfg)
	if err != nil {
		log.Printf("[TRANSPORT-STREAMS] error updating stream %s: %v", cfg.Name, err)
		return err
	}

	log.Printf("[TRANSPORT-STREAMS] stream %s updated successfully (messages: %d)", cfg.Name, info.State.Msgs)
	return nil
}

// DeleteStream deletes a stream by name (useful for cleanup/testing)
func (sm *StreamManager) DeleteStream(name string) error {
	log.Printf("[TRANSPORT-STREAMS] deleting stream %s", name)
	err := sm.js.DeleteStream(name)
	if err != nil {
		log.Printf("[TRANSPORT-STREAMS] error deleting stream %s: %v", name, err)
		return err
	}
	log.Printf("[TRANSPORT-STREAMS] stream %s deleted successfully", name)
	return nil
}

// GetStreamInfo returns information about a specific stream
func (sm *StreamManager) GetStreamInfo(name string) (*nats.StreamInfo, error) {
	return sm.js.StreamInfo(name)
}
