package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dorofeevb1/sodrugestvobot/internal/config"
	"github.com/dorofeevb1/sodrugestvobot/internal/logger"
	"github.com/dorofeevb1/sodrugestvobot/internal/notify"
)

func main() {
	hostname, _ := os.Hostname()
	var (
		group    = flag.String("group", "alert-consumer-group", "Consumer group name")
		consumer = flag.String("consumer", "consumer-"+hostname, "Consumer name within the group")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("connected to Redis", "addr", cfg.Redis.Addr)

	c := &Consumer{
		redis:  rdb,
		stream: cfg.Notify.Stream,
		group:  *group,
		name:   *consumer,
		logger: log.With("component", "alert-consumer"),
	}

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("consumer error", "error", err)
		os.Exit(1)
	}
	log.Info("consumer stopped")
}

type Consumer struct {
	redis  *redis.Client
	stream string
	group  string
	name   string
	logger *slog.Logger
}

func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.stream, "group", c.group, "consumer", c.name)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.name,
			Streams:  []string{c.stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if err := c.processMessage(message); err != nil {
					c.logger.Error("failed to process message", "id", message.ID, "error", err)
				}

				// Malformed entries are acked too; redelivery would not fix them.
				if err := c.redis.XAck(ctx, c.stream, c.group, message.ID).Err(); err != nil {
					c.logger.Error("failed to acknowledge message", "id", message.ID, "error", err)
				}
			}
		}
	}
}

func (c *Consumer) processMessage(msg redis.XMessage) error {
	payload, err := decodeAlert(msg)
	if err != nil || payload == nil {
		return err
	}

	c.logger.Info("price alert",
		"message_id", msg.ID,
		"telegram_id", payload.TelegramID,
		"product_id", payload.ProductID,
		"direction", payload.Direction,
		"change_percent", payload.ChangePercent,
		"text", renderAlert(payload))

	return nil
}

// decodeAlert returns nil for entries that are not price alerts.
func decodeAlert(msg redis.XMessage) (*notify.Payload, error) {
	eventType, _ := msg.Values["type"].(string)
	if eventType != notify.EventTypePriceChanged {
		return nil, nil
	}

	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("missing data in event")
	}

	var payload notify.Payload
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	if payload.TelegramID == 0 {
		return nil, fmt.Errorf("alert %s has no telegram_id", payload.EventID)
	}
	return &payload, nil
}

// renderAlert is the chat text a bot would send for p.
func renderAlert(p *notify.Payload) string {
	emoji, direction := "📈", "выросла"
	if p.Direction == "down" {
		emoji, direction = "📉", "упала"
	}
	return fmt.Sprintf("%s *Изменение цены*\n\nТовар: %s\nЦена %s на %s%%\nСтарая цена: %s₽\nНовая цена: %s₽",
		emoji, p.ProductName, direction, strings.TrimPrefix(p.ChangePercent, "-"), p.OldPrice, p.NewPrice)
}
