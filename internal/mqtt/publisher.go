package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/assist/internal/buildinfo"
	"github.com/nugget/assist/internal/config"
)

// Status is the assistant state behind the sensors.
type Status struct {
	Mode string
	// ToolsSupported is llm.ToolSupport rendered as text.
	ToolsSupported string
	Turns          int64
	LastTurn       time.Time
	LastOutcome    string
}

// StatsSource supplies sensor state. The adapter lives in main so this
// package does not depend on how the assistant is assembled.
type StatsSource interface {
	Status() Status
}

// Publisher owns the broker connection, the discovery and state
// publishing loop, and the ask topic subscription.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	stats      StatsSource
	daily      *DailyTurns
	asks       *askHandler
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to connect and begin publishing.
func New(cfg config.MQTTConfig, instanceID string, stats StatsSource, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		stats:      stats,
		daily:      NewDailyTurns(nil),
		logger:     logger.With("component", "mqtt"),
	}
}

// SetAsker enables the ask topic. Must be called before Start.
func (p *Publisher) SetAsker(a Asker) {
	p.asks = newAskHandler(a, p.replyTopic(), p.logger)
}

// Start connects and runs the publish loop until ctx is cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.subscribe(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "assist-" + p.cfg.DeviceName,
		},
	}

	if p.asks != nil {
		pahoCfg.ClientConfig.OnPublishReceived = []func(paho.PublishReceived) (bool, error){
			func(pr paho.PublishReceived) (bool, error) {
				if pr.Packet.Topic != p.askTopic() {
					return false, nil
				}
				go p.asks.handle(ctx, pr.Packet.Payload, p.publish)
				return true, nil
			},
		}
		go p.asks.limiter.start(ctx)
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.runLoop(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "assist/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) askTopic() string {
	return p.baseTopic() + "/ask"
}

func (p *Publisher) replyTopic() string {
	return p.baseTopic() + "/reply"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entity string
	config SensorConfig
}

func (p *Publisher) sensor(entity, name, icon string) SensorConfig {
	return SensorConfig{
		Name:              name,
		ObjectID:          entity,
		HasEntityName:     true,
		UniqueID:          p.instanceID + "_" + entity,
		StateTopic:        p.stateTopic(entity),
		AvailabilityTopic: p.availabilityTopic(),
		Device:            p.device,
		Icon:              icon,
	}
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	diagnostic := func(c SensorConfig) SensorConfig {
		c.EntityCategory = "diagnostic"
		return c
	}

	uptime := diagnostic(p.sensor("uptime", "Uptime", "mdi:clock-outline"))
	uptime.DeviceClass = "duration"
	uptime.UnitOfMeasurement = "s"

	turns := p.sensor("turns_total", "Turns", "mdi:chat-processing")
	turns.StateClass = "total_increasing"
	turns.UnitOfMeasurement = "turns"

	today := p.sensor("turns_today", "Turns Today", "mdi:counter")
	today.StateClass = "total_increasing"
	today.UnitOfMeasurement = "turns"

	lastTurn := p.sensor("last_turn", "Last Turn", "mdi:clock-check")
	lastTurn.DeviceClass = "timestamp"

	return []sensorDef{
		{"uptime", uptime},
		{"version", diagnostic(p.sensor("version", "Version", "mdi:tag"))},
		{"mode", diagnostic(p.sensor("mode", "Mode", "mdi:source-branch"))},
		{"tools_supported", diagnostic(p.sensor("tools_supported", "Tools Supported", "mdi:tools"))},
		{"turns_total", turns},
		{"turns_today", today},
		{"last_turn", lastTurn},
		{"last_outcome", p.sensor("last_outcome", "Last Outcome", "mdi:message-reply-text")},
	}
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entity)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload", "entity", s.entity, "error", err)
			continue
		}
		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed", "entity", s.entity, "topic", topic, "error", err)
			continue
		}
		p.logger.Debug("mqtt discovery published", "entity", s.entity, "topic", topic)
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed", "status", status, "error", err)
		return
	}
	p.logger.Info("mqtt availability published", "status", status)
}

func (p *Publisher) subscribe(ctx context.Context, cm *autopaho.ConnectionManager) {
	if p.asks == nil {
		return
	}
	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: p.askTopic(), QoS: 1}},
	}); err != nil {
		p.logger.Warn("mqtt subscribe failed", "topic", p.askTopic(), "error", err)
		return
	}
	p.logger.Info("mqtt listening for questions", "topic", p.askTopic(), "reply_topic", p.replyTopic())
}

// publish sends a non-retained message on the live connection.
func (p *Publisher) publish(ctx context.Context, topic string, payload []byte) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	_, err := p.cm.Publish(ctx, &paho.Publish{Topic: topic, Payload: payload, QoS: 1})
	return err
}

// --- Periodic state loop ---

func (p *Publisher) runLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(p.cfg.PublishIntervalSec) * time.Second)
	defer ticker.Stop()

	p.publishStates(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.publishStates(ctx)
		}
	}
}

// sensorStates renders every sensor's current value.
func (p *Publisher) sensorStates() map[string]string {
	st := p.stats.Status()
	lastTurn := "unknown"
	if !st.LastTurn.IsZero() {
		lastTurn = st.LastTurn.Format(time.RFC3339)
	}
	lastOutcome := st.LastOutcome
	if lastOutcome == "" {
		lastOutcome = "none"
	}
	return map[string]string{
		"uptime":          strconv.FormatInt(int64(buildinfo.Uptime().Seconds()), 10),
		"version":         buildinfo.Version,
		"mode":            st.Mode,
		"tools_supported": st.ToolsSupported,
		"turns_total":     strconv.FormatInt(st.Turns, 10),
		"turns_today":     strconv.FormatInt(p.daily.Observe(st.Turns), 10),
		"last_turn":       lastTurn,
		"last_outcome":    lastOutcome,
	}
}

func (p *Publisher) publishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}
	states := p.sensorStates()
	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed", "entity", entity, "error", err)
		}
	}
	p.logger.Debug("mqtt sensor states published", "entities", len(states))
}
