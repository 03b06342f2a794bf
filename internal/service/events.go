package service

import (
	"encoding/json"
	"time"

	"github.com/modemfarm/smsagent/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// EventPublisher feeds activation lifecycle events to dashboard/analytics
// consumers. Implementations must be best effort: a publish failure is the
// publisher's problem, never the caller's.
type EventPublisher interface {
	ActivationOpened(a models.Activation)
	ActivationClosed(a models.Activation)
	SMSForwarded(activationID int64, delivered bool)
}

// NopEvents is used when no broker is configured.
type NopEvents struct{}

func (NopEvents) ActivationOpened(models.Activation) {}
func (NopEvents) ActivationClosed(models.Activation) {}
func (NopEvents) SMSForwarded(int64, bool)           {}

// AMQPEvents publishes lifecycle events on a topic exchange.
type AMQPEvents struct {
	channel  *amqp.Channel
	exchange string
	logger   *logrus.Logger
}

func NewAMQPEvents(channel *amqp.Channel, exchange string, logger *logrus.Logger) (*AMQPEvents, error) {
	if err := channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		return nil, err
	}
	return &AMQPEvents{channel: channel, exchange: exchange, logger: logger}, nil
}

type activationEvent struct {
	Kind       string             `json:"kind"`
	Activation *models.Activation `json:"activation,omitempty"`
	SMSID      int64              `json:"sms_id,omitempty"`
	Delivered  *bool              `json:"delivered,omitempty"`
	At         time.Time          `json:"at"`
}

func (e *AMQPEvents) publish(routingKey string, event activationEvent) {
	event.At = time.Now()
	body, err := json.Marshal(event)
	if err != nil {
		e.logger.Debugf("marshal event: %v", err)
		return
	}
	if err := e.channel.Publish(
		e.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Transient,
		},
	); err != nil {
		e.logger.Debugf("publish %s: %v", routingKey, err)
	}
}

func (e *AMQPEvents) ActivationOpened(a models.Activation) {
	e.publish("activation.opened", activationEvent{Kind: "activation_opened", Activation: &a})
}

func (e *AMQPEvents) ActivationClosed(a models.Activation) {
	e.publish("activation.closed", activationEvent{Kind: "activation_closed", Activation: &a})
}

func (e *AMQPEvents) SMSForwarded(activationID int64, delivered bool) {
	e.publish("sms.forwarded", activationEvent{Kind: "sms_forwarded", SMSID: activationID, Delivered: &delivered})
}
