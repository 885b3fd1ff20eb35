package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ifuryst/ripplecast/internal/config"
)

// New builds the sinks listed in cfg.Drivers. The websocket driver publishes to hub, which the HTTP
// server also serves.
func New(ctx context.Context, cfg config.EventsConfig, hub *Hub, logger *zap.Logger) (Multi, error) {
	var sinks Multi
	for _, driver := range cfg.Drivers {
		switch driver {
		case "log":
			sinks = append(sinks, NewLogPublisher(logger))
		case "rabbitmq":
			p, err := DialRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RoutingKey, logger)
			if err != nil {
				_ = sinks.Close()
				return nil, err
			}
			sinks = append(sinks, p)
		case "pubsub":
			p, err := NewPubSubPublisher(ctx, cfg.PubSub.ProjectID, cfg.PubSub.Topic)
			if err != nil {
				_ = sinks.Close()
				return nil, err
			}
			sinks = append(sinks, p)
		case "websocket":
			if hub == nil {
				return nil, fmt.Errorf("websocket events need a hub")
			}
			sinks = append(sinks, hub)
		default:
			_ = sinks.Close()
			return nil, fmt.Errorf("unsupported events driver: %s", driver)
		}
	}
	logger.Info("Status event sinks ready", zap.Strings("drivers", cfg.Drivers))
	return sinks, nil
}
