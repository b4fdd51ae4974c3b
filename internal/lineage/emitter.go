package lineage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/contractguard/contract-monitor/internal/model"
)

// Config selects the lineage transports. Both are optional; with neither
// configured the emitter is a no-op.
type Config struct {
	Namespace    string
	ProducerName string
	HTTPEndpoint string
	HTTPTimeout  time.Duration
	KafkaBrokers []string
	KafkaTopic   string
}

// Emitter publishes OpenLineage-style FAIL run events for contract
// violations. Emission is strictly fire-and-forget: transport failures are
// logged and never surface to the check pipeline.
type Emitter struct {
	cfg      Config
	logger   *slog.Logger
	http     *resty.Client
	producer sarama.AsyncProducer
}

type runEvent struct {
	EventType string    `json:"eventType"`
	EventTime time.Time `json:"eventTime"`
	Producer  string    `json:"producer"`
	Run       run       `json:"run"`
	Job       job       `json:"job"`
}

type run struct {
	RunID  string         `json:"runId"`
	Facets map[string]any `json:"facets,omitempty"`
}

type job struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

type violationFacet struct {
	ContractName         string   `json:"contractName"`
	ViolationType        string   `json:"violationType"`
	Severity             string   `json:"severity"`
	Message              string   `json:"message"`
	CheckDurationSeconds float64  `json:"checkDurationSeconds"`
	AffectedConsumers    []string `json:"affectedConsumers,omitempty"`
}

// NewEmitter creates a lineage emitter and connects the configured
// transports.
func NewEmitter(cfg Config, logger *slog.Logger) (*Emitter, error) {
	e := &Emitter{cfg: cfg, logger: logger}

	if cfg.HTTPEndpoint != "" {
		timeout := cfg.HTTPTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		e.http = resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json")
	}

	if len(cfg.KafkaBrokers) > 0 {
		saramaCfg := sarama.NewConfig()
		saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		saramaCfg.Producer.Return.Errors = true
		saramaCfg.Producer.Compression = sarama.CompressionSnappy

		producer, err := sarama.NewAsyncProducer(cfg.KafkaBrokers, saramaCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create lineage producer: %w", err)
		}
		e.producer = producer
		go e.drainErrors()
	}

	return e, nil
}

// EmitViolation publishes a FAIL run event for one violation.
func (e *Emitter) EmitViolation(ctx context.Context, event *model.ViolationEvent) {
	if e.http == nil && e.producer == nil {
		return
	}

	payload := runEvent{
		EventType: "FAIL",
		EventTime: event.Timestamp,
		Producer:  e.cfg.ProducerName,
		Run: run{
			RunID: uuid.NewString(),
			Facets: map[string]any{
				"contractViolation": violationFacet{
					ContractName:         event.ContractName,
					ViolationType:        event.ViolationType,
					Severity:             string(event.Severity),
					Message:              event.Message,
					CheckDurationSeconds: event.CheckDurationSeconds,
					AffectedConsumers:    event.AffectedConsumers,
				},
			},
		},
		Job: job{
			Namespace: e.cfg.Namespace,
			Name:      event.ContractName,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("Failed to marshal lineage event", "contract", event.ContractName, "error", err)
		return
	}

	if e.http != nil {
		resp, err := e.http.R().SetContext(ctx).SetBody(body).Post(e.cfg.HTTPEndpoint)
		switch {
		case err != nil:
			e.logger.Error("Failed to emit lineage event", "contract", event.ContractName, "error", err)
		case resp.IsError():
			e.logger.Error("Lineage endpoint rejected event",
				"contract", event.ContractName,
				"status", resp.StatusCode())
		}
	}

	if e.producer != nil {
		e.producer.Input() <- &sarama.ProducerMessage{
			Topic: e.cfg.KafkaTopic,
			Key:   sarama.StringEncoder(event.ContractName),
			Value: sarama.ByteEncoder(body),
		}
	}
}

func (e *Emitter) drainErrors() {
	for err := range e.producer.Errors() {
		e.logger.Error("Lineage Kafka publish failed", "topic", err.Msg.Topic, "error", err.Err)
	}
}

// Close shuts down the Kafka producer, flushing buffered events.
func (e *Emitter) Close() error {
	if e.producer != nil {
		return e.producer.Close()
	}
	return nil
}
