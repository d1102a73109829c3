package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	cfg "github.com/roastedbeans/certification-authority/internal/config"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
)

// messageWriter is the part of *kafka.Writer the shipper uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaShipper publishes audit and detection events to their topics from a
// buffered queue. Events are dropped when the queue is full.
type KafkaShipper struct {
	cfg        cfg.KafkaConfig
	wAudit     messageWriter
	wDetection messageWriter
	ch         chan any
	stop       chan struct{}
	done       chan struct{}
	once       sync.Once
	dropped    int64
	mu         sync.Mutex
	now        func() time.Time
}

func NewKafkaShipper(cfgIn cfg.KafkaConfig) (*KafkaShipper, error) {
	c := cfgIn
	if !c.Enabled {
		return &KafkaShipper{cfg: c}, nil
	}
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 2 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = c.BatchSize * 4
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}

	tr := &kafka.Transport{DialTimeout: c.DialTimeout}
	if c.TLS {
		tr.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	writer := func(topic string) messageWriter {
		if topic == "" {
			return nil
		}
		return &kafka.Writer{
			Addr:                   kafka.TCP(c.Brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			Transport:              tr,
			AllowAutoTopicCreation: false,
			Async:                  true,
			BatchTimeout:           c.FlushEvery,
			BatchSize:              c.BatchSize,
			WriteTimeout:           c.WriteTimeout,
		}
	}
	return newKafkaShipper(c, writer(c.TopicAudit), writer(c.TopicDetection)), nil
}

func newKafkaShipper(c cfg.KafkaConfig, audit, detection messageWriter) *KafkaShipper {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	return &KafkaShipper{
		cfg:        c,
		wAudit:     audit,
		wDetection: detection,
		ch:         make(chan any, c.QueueCapacity),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

func (s *KafkaShipper) Start() {
	if !s.cfg.Enabled {
		return
	}
	go s.loop()
}

// Stop drains queued events and closes the writers, giving up when ctx ends.
func (s *KafkaShipper) Stop(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	s.once.Do(func() { close(s.stop) })
	select {
	case <-s.done:
	case <-ctx.Done():
		logger.Warnw("kafka shipper stop timed out", "queued", len(s.ch))
	}
	for _, w := range []messageWriter{s.wAudit, s.wDetection} {
		if w != nil {
			if err := w.Close(); err != nil {
				logger.Warnw("kafka writer close failed", "error", err)
			}
		}
	}
}

func (s *KafkaShipper) Publish(ev any) {
	if !s.cfg.Enabled {
		return
	}
	select {
	case s.ch <- ev:
	default:
		s.mu.Lock()
		s.dropped++
		n := s.dropped
		s.mu.Unlock()
		if n == 1 || n%1000 == 0 {
			logger.Warnw("kafka shipper queue full, dropping events", "dropped", n)
		}
	}
}

// Dropped returns the number of events lost to backpressure.
func (s *KafkaShipper) Dropped() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

func (s *KafkaShipper) loop() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.ch:
			s.dispatchLogged(ev)
		case <-s.stop:
			for {
				select {
				case ev := <-s.ch:
					s.dispatchLogged(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *KafkaShipper) dispatchLogged(ev any) {
	if err := s.dispatch(ev); err != nil {
		logger.Warnw("kafka publish failed", "error", err)
	}
}

func (s *KafkaShipper) dispatch(ev any) error {
	now := s.now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	var w messageWriter
	var key string
	switch e := ev.(type) {
	case AuditEvent:
		w, key = s.wAudit, e.ClientID
		if key == "" {
			key = e.APITranID
		}
	case RateLimitEvent:
		w, key = s.wAudit, e.ClientID
	case DetectionEvent:
		w, key = s.wDetection, e.RequestID
	default:
		w = s.wAudit
	}
	if w == nil {
		return nil
	}
	msg := kafka.Message{Value: payload, Time: now}
	if key != "" {
		msg.Key = []byte(key)
	}
	return w.WriteMessages(context.Background(), msg)
}
