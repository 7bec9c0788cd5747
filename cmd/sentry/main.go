package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/layer-3/sentry/adapters/authclient"
	"github.com/layer-3/sentry/adapters/clock"
	"github.com/layer-3/sentry/adapters/events"
	"github.com/layer-3/sentry/adapters/store"
	"github.com/layer-3/sentry/adapters/tokenizer"
	"github.com/layer-3/sentry/adapters/wallet"
	"github.com/layer-3/sentry/config"
	"github.com/layer-3/sentry/ports"
	"github.com/layer-3/sentry/service"
	transport "github.com/layer-3/sentry/transport/http"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := watermill.NewStdLogger(cfg.LogDebug, false)

	domain, err := cfg.Domain.EIP712()
	if err != nil {
		log.Fatalf("Failed to load EIP-712 domain: %v", err)
	}

	w, err := wallet.NewLocalWalletFromHex(cfg.WalletKey, domain)
	if err != nil {
		log.Fatalf("Failed to load wallet: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		cache     ports.TokenCache
		publisher message.Publisher
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to parse Redis URL: %v", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		cache = store.NewRedisTokenCache(redisClient, 0)
		publisher, err = redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, logger)
		if err != nil {
			log.Fatalf("Failed to create Redis publisher: %v", err)
		}
	} else {
		cache = store.NewMemoryTokenCache()
		pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logger)
		publisher = pubSub
		go logNotifications(ctx, pubSub, logger)
	}
	defer publisher.Close()

	notifier := events.Fanout{
		events.NewLogNotifier(logger),
		events.NewMessageNotifier(publisher, w, logger),
	}

	client := authclient.NewClient(cfg.AuthURL, w, cache, authclient.WithLogger(logger))
	monitor := service.NewSessionMonitor(
		client,
		w,
		notifier,
		tokenizer.NewDecoder(),
		clock.New(),
		monitorOptions(cfg, logger)...,
	)

	status := &http.Server{
		Addr:              cfg.StatusAddr,
		Handler:           transport.SetupStatusRouter(monitor, w),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := status.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Status server stopped", err, nil)
		}
	}()

	w.Connect()
	if resumed, err := client.Resume(ctx); err != nil {
		logger.Error("Failed to resume cached session", err, nil)
	} else if resumed {
		logger.Info("Resumed cached session", watermill.LogFields{"address": w.Address().Hex()})
	}

	logger.Info("Keeping wallet session alive", watermill.LogFields{
		"address":  w.Address().Hex(),
		"auth_url": cfg.AuthURL,
	})
	if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Session monitor stopped", err, nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Logout(shutdownCtx); err != nil {
		logger.Error("Failed to logout", err, nil)
	}
	_ = status.Shutdown(shutdownCtx)
}

func monitorOptions(cfg config.Client, logger watermill.LoggerAdapter) []service.MonitorOption {
	opts := []service.MonitorOption{service.WithMonitorLogger(logger)}
	if cfg.ExpiryNotice != "" {
		opts = append(opts, service.WithExpiryNotice(cfg.ExpiryNotice))
	}
	return opts
}

func logNotifications(ctx context.Context, sub message.Subscriber, logger watermill.LoggerAdapter) {
	msgs, err := sub.Subscribe(ctx, events.NotificationTopic)
	if err != nil {
		logger.Error("Failed to subscribe to notifications", err, nil)
		return
	}
	for msg := range msgs {
		logger.Debug("Notification published", watermill.LogFields{"id": msg.UUID, "payload": string(msg.Payload)})
		msg.Ack()
	}
}
