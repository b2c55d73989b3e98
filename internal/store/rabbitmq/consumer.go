package rabbitmq

import (
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeclareAuditQueue declares queue (bound to every routing key of exchange)
// plus its DLQ. Rejected deliveries (nack, requeue=false) go to the DLQ.
func DeclareAuditQueue(ch *amqp.Channel, exchange, queue string) error {
	if err := DeclareExchange(ch, exchange); err != nil {
		return err
	}

	dlqQ := queue + ".dlq"
	if _, err := ch.QueueDeclare(
		dlqQ,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		return err
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": dlqQ,
		},
	); err != nil {
		return err
	}

	return ch.QueueBind(queue, "#", exchange, false, nil)
}
