package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/ai-salesbot/internal/audit"
	"github.com/suPer8Hu/ai-salesbot/internal/config"
	"github.com/suPer8Hu/ai-salesbot/internal/db"
	"github.com/suPer8Hu/ai-salesbot/internal/logging"
	"github.com/suPer8Hu/ai-salesbot/internal/retry"
	"github.com/suPer8Hu/ai-salesbot/internal/store/rabbitmq"
	"go.uber.org/zap"
)

func workerConcurrency(n int) int {
	if n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if cfg.RabbitURL == "" {
		log.Fatal("RABBIT_URL is required")
	}

	gdb := db.Connect(log, cfg.DBDriver, cfg.DBDSN, &audit.Event{})
	consumer := audit.NewConsumer(audit.NewRepo(gdb), retry.Fixed(3, time.Second), log.Named("audit"))

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareAuditQueue(ch, cfg.RabbitExchange, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", zap.Error(err))
	}

	concurrency := workerConcurrency(cfg.AuditWorkers)

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("audit worker started",
		zap.String("exchange", cfg.RabbitExchange),
		zap.String("queue", cfg.RabbitQueue),
		zap.Int("concurrency", concurrency),
	)

	// in-flight deliveries finish even after a stop signal
	hctx := context.WithoutCancel(ctx)
	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			wlog := log.With(zap.Int("worker", workerID))
			for d := range deliveries {
				start := time.Now()
				if err := consumer.Handle(hctx, d.Body); err != nil {
					// rejected deliveries are dead-lettered
					wlog.Warn("event rejected",
						zap.String("routing_key", d.RoutingKey),
						zap.Bool("permanent", retry.IsPermanent(err)),
						zap.Duration("cost", time.Since(start)),
						zap.Error(err),
					)
					_ = d.Nack(false, false)
					continue
				}
				if err := d.Ack(false); err != nil {
					wlog.Warn("ack failed", zap.String("routing_key", d.RoutingKey), zap.Error(err))
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Info("audit worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				close(deliveries)
				wg.Wait()
				return
			}
			deliveries <- d
		}
	}
}
