package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"apphub.local/matrix-bots/internal/activity"
	activitylog "apphub.local/matrix-bots/internal/activity/logging"
	"apphub.local/matrix-bots/internal/activity/webhook"
	"apphub.local/matrix-bots/internal/activity/wshub"
	"apphub.local/matrix-bots/internal/appcontext"
	"apphub.local/matrix-bots/internal/apps"
	"apphub.local/matrix-bots/internal/assistant"
	"apphub.local/matrix-bots/internal/bot"
	"apphub.local/matrix-bots/internal/chat"
	"apphub.local/matrix-bots/internal/config"
	"apphub.local/matrix-bots/internal/conversation"
)

const registryCacheTTL = 30 * time.Second

func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (conversation.Store, error) {
	opts := []conversation.Option{conversation.WithMaxTurns(cfg.AIMaxContextLength)}
	switch cfg.StoreBackend {
	case config.StoreGorm:
		store, err := conversation.NewGormStore(cfg.DBDriver, cfg.DBDSN, log, opts...)
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		return store, nil
	case config.StoreRedis:
		store, err := conversation.OpenRedisStore(ctx, cfg.RedisURL, opts...)
		if err != nil {
			return nil, fmt.Errorf("open conversation store: %w", err)
		}
		return store, nil
	default:
		return conversation.NewMemoryStore(opts...), nil
	}
}

// newRegistry prefers the local apps file over the hub API.
func newRegistry(cfg config.Config) apps.Registry {
	if strings.TrimSpace(cfg.AppsFile) != "" {
		return apps.NewFileRegistry(cfg.AppsFile)
	}
	return apps.NewCachedRegistry(apps.NewHTTPRegistry(cfg.HubAPIURL, cfg.HubAPIToken), registryCacheTTL)
}

func newChatService(cfg config.Config, log zerolog.Logger, registry apps.Registry, store conversation.Store) (*chat.Service, error) {
	asst, err := assistant.New(assistant.Config{
		Provider:  cfg.AIProvider,
		BaseURL:   cfg.AIBaseURL,
		APIKey:    cfg.AIAPIKey,
		Model:     cfg.AIModel,
		MaxTokens: cfg.AIMaxTokens,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("configure assistant: %w", err)
	}
	log.Info().Str("provider", string(asst.Kind())).Str("model", asst.Model()).Msg("assistant configured")
	return chat.NewService(registry, appcontext.NewBuilder(), store, asst, chat.WithLogger(log)), nil
}

func newResponder(cfg config.Config, service *chat.Service) (bot.Responder, error) {
	switch cfg.BotResponder {
	case config.ResponderRelay:
		return chat.NewRelayClient(cfg.BotRelayURL, chat.WithRelayToken(cfg.HubAPIToken)), nil
	case config.ResponderDirect, "":
		return service, nil
	default:
		return nil, fmt.Errorf("unknown responder %q", cfg.BotResponder)
	}
}

func newSubscribers(cfg config.Config, log zerolog.Logger, hub *wshub.Hub) []activity.Subscriber {
	subs := []activity.Subscriber{activitylog.New(log)}
	if hub != nil {
		subs = append(subs, hub)
	}
	for idx, webhookURL := range cfg.WebhookURLs {
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL))
	}
	return subs
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil {
		if host := strings.TrimSpace(parsed.Host); host != "" {
			return host
		}
	}
	return fmt.Sprintf("webhook-%d", index+1)
}
