package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"teslafi/internal/config"
	"teslafi/internal/entity"
	"teslafi/internal/metrics"
	"teslafi/internal/registry"
	"teslafi/internal/teslafi"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

var (
	// ErrUnknownTopic is returned for messages on topics no entity owns.
	ErrUnknownTopic = errors.New("no entity for topic")
	// ErrBadPayload is returned for payloads an entity cannot act on.
	ErrBadPayload = errors.New("unsupported payload")
)

const publishTimeout = 10 * time.Second

// connection is the part of the autopaho connection manager the bridge uses.
type connection interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
	Subscribe(ctx context.Context, s *paho.Subscribe) (*paho.Suback, error)
}

// Notifier reports rejected commands to the user.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Options configure a Bridge.
type Options struct {
	Config config.MQTTConfig
	// ReadOnly logs commands instead of executing them.
	ReadOnly bool
	Notifier Notifier
	Logger   *zap.Logger
}

type bridged struct {
	entry   *registry.Entry
	vin     string
	removed bool
}

type route struct {
	target *bridged
	entity entity.Entity
	action string
}

// Bridge mirrors entries to Home Assistant over MQTT. It is an
// integration listener: entries are published as they are set up and
// withdrawn when unloaded.
type Bridge struct {
	cfg      config.MQTTConfig
	topics   Topics
	readOnly bool
	notifier Notifier
	logger   *zap.Logger

	mu      sync.RWMutex
	ctx     context.Context
	conn    connection
	entries map[string]*bridged
	routes  map[string]route
}

// NewBridge creates a bridge. Call Run to connect.
func NewBridge(opts Options) *Bridge {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bridge{
		cfg:      opts.Config,
		topics:   NewTopics(opts.Config.DiscoveryPrefix, opts.Config.TopicPrefix),
		readOnly: opts.ReadOnly,
		notifier: opts.Notifier,
		logger:   opts.Logger.Named("mqtt"),
		ctx:      context.Background(),
		entries:  make(map[string]*bridged),
		routes:   make(map[string]route),
	}
}

// Topics is the bridge's topic layout.
func (b *Bridge) Topics() Topics { return b.topics }

// Run connects to the broker and blocks until ctx is done. Discovery and
// state are republished on every (re)connect.
func (b *Bridge) Run(ctx context.Context) error {
	brokerURL, err := url.Parse(b.cfg.URL)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	b.mu.Lock()
	b.ctx = ctx
	b.mu.Unlock()

	clientID := b.cfg.ClientID
	if clientID == "" {
		clientID = "teslafi-bridge"
	}

	cm, err := autopaho.NewConnection(ctx, autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: b.cfg.Username,
		ConnectPassword: []byte(b.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   b.topics.Bridge(),
			Payload: []byte(Offline),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			b.logger.Info("Connected to MQTT broker", zap.String("broker", b.cfg.URL))
			b.onConnectionUp(ctx, cm)
		},
		OnConnectError: func(err error) {
			b.logger.Warn("MQTT connection error", zap.Error(err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: clientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				b.router,
			},
			OnClientError: func(err error) {
				b.logger.Error("MQTT client error", zap.Error(err))
			},
		},
	})
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if err := cm.AwaitConnection(connCtx); err != nil {
		b.logger.Warn("MQTT initial connection timed out, retrying in background", zap.Error(err))
	}
	cancel()

	<-ctx.Done()

	stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	b.publish(stopCtx, b.topics.Bridge(), []byte(Offline), 1, true)
	b.mu.Lock()
	b.conn = nil
	b.mu.Unlock()
	return cm.Disconnect(stopCtx)
}

func (b *Bridge) onConnectionUp(ctx context.Context, conn connection) {
	b.mu.Lock()
	b.conn = conn
	entries := make([]*bridged, 0, len(b.entries))
	for _, e := range b.entries {
		entries = append(entries, e)
	}
	b.mu.Unlock()

	subs := make([]paho.SubscribeOptions, 0, 2)
	for _, filter := range b.topics.CommandFilters() {
		subs = append(subs, paho.SubscribeOptions{Topic: filter, QoS: 1, NoLocal: true})
	}
	subCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	if _, err := conn.Subscribe(subCtx, &paho.Subscribe{Subscriptions: subs}); err != nil {
		b.logger.Error("Failed to subscribe to command topics", zap.Error(err))
	}
	cancel()

	b.publish(ctx, b.topics.Bridge(), []byte(Online), 1, true)
	for _, e := range entries {
		b.publishEntry(ctx, e)
	}
}

// EntryAdded publishes an entry's entities and starts mirroring their state.
func (b *Bridge) EntryAdded(e *registry.Entry) {
	vin, err := e.Coordinator.Data().VIN()
	if err != nil {
		vin = e.ID
	}
	target := &bridged{entry: e, vin: vin}

	b.mu.Lock()
	b.entries[e.ID] = target
	for _, ent := range e.Entities.All() {
		for _, action := range Actions(ent) {
			b.routes[b.topics.Command(vin, ent, action)] = route{target: target, entity: ent, action: action}
		}
	}
	ctx := b.ctx
	b.mu.Unlock()

	e.Entities.OnStateChange(func(ent entity.Entity) {
		b.publishState(b.context(), target, ent)
	})
	b.publishEntry(ctx, target)

	b.logger.Info("Bridging entry",
		zap.String("entry", e.ID),
		zap.String("vin", vin),
		zap.Int("entities", len(e.Entities.All())))
}

// EntryRemoved withdraws an entry's entities from Home Assistant.
func (b *Bridge) EntryRemoved(e *registry.Entry) {
	b.mu.Lock()
	target, ok := b.entries[e.ID]
	if ok {
		target.removed = true
		delete(b.entries, e.ID)
		for topic, r := range b.routes {
			if r.target == target {
				delete(b.routes, topic)
			}
		}
	}
	ctx := b.ctx
	b.mu.Unlock()
	if !ok {
		return
	}

	for _, ent := range e.Entities.All() {
		b.publish(ctx, b.topics.Discovery(target.vin, ent), nil, 1, true)
	}
	b.logger.Info("Withdrew entry", zap.String("entry", e.ID))
}

func (b *Bridge) publishEntry(ctx context.Context, target *bridged) {
	if !b.connected() {
		return
	}
	device := target.entry.Entities.Device()
	for _, ent := range target.entry.Entities.All() {
		payload, err := json.Marshal(DiscoveryConfig(b.topics, target.vin, device, ent))
		if err != nil {
			b.logger.Error("Failed to marshal discovery config", zap.String("unique_id", ent.UniqueID()), zap.Error(err))
			continue
		}
		b.publish(ctx, b.topics.Discovery(target.vin, ent), payload, 1, true)
		b.publishState(ctx, target, ent)
	}
}

func (b *Bridge) publishState(ctx context.Context, target *bridged, ent entity.Entity) {
	b.mu.RLock()
	removed := target.removed
	b.mu.RUnlock()
	if removed || !b.connected() {
		return
	}

	s := ent.State()
	if ent.Platform() != entity.PlatformButton {
		b.publish(ctx, b.topics.State(target.vin, ent), StatePayload(ent, s), 0, true)
	}
	if attributes, err := AttributesPayload(s); err != nil {
		b.logger.Warn("Failed to marshal attributes", zap.String("unique_id", ent.UniqueID()), zap.Error(err))
	} else {
		b.publish(ctx, b.topics.Attributes(target.vin, ent), attributes, 0, true)
	}
	b.publish(ctx, b.topics.Availability(target.vin, ent), AvailabilityPayload(s), 0, true)
}

func (b *Bridge) publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) {
	b.mu.RLock()
	conn := b.conn
	b.mu.RUnlock()
	if conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if _, err := conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}); err != nil {
		b.logger.Debug("MQTT publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func (b *Bridge) connected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.conn != nil
}

func (b *Bridge) context() context.Context {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.ctx
}

func (b *Bridge) router(p paho.PublishReceived) (bool, error) {
	topic := p.Packet.Topic
	payload := append([]byte(nil), p.Packet.Payload...)
	ctx := b.context()
	go func() {
		if err := b.HandleCommand(ctx, topic, payload); err != nil {
			b.logger.Warn("Command failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
	return true, nil
}

// HandleCommand runs the entity action addressed by topic. Rejected
// commands are also reported through the notifier.
func (b *Bridge) HandleCommand(ctx context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	r, ok := b.routes[topic]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	platform := string(r.entity.Platform())
	value := strings.TrimSpace(string(payload))

	if b.readOnly {
		b.logger.Info("READ-ONLY: would run command",
			zap.String("unique_id", r.entity.UniqueID()),
			zap.String("action", r.action),
			zap.String("payload", value))
		metrics.MQTTCommandsTotal.WithLabelValues(platform, "ignored").Inc()
		return nil
	}

	err := dispatch(ctx, r, value)
	if err != nil {
		metrics.MQTTCommandsTotal.WithLabelValues(platform, "failed").Inc()
		if rejected(err) {
			b.notify(ctx, "TeslaFi command rejected",
				fmt.Sprintf("%s: %s failed: %v", r.target.entry.Title, r.entity.Name(), err))
		}
		return err
	}
	metrics.MQTTCommandsTotal.WithLabelValues(platform, "success").Inc()
	return nil
}

func dispatch(ctx context.Context, r route, payload string) error {
	switch e := r.entity.(type) {
	case entity.Thermostat:
		switch r.action {
		case ActionMode:
			return e.SetHVACMode(ctx, strings.ToLower(payload))
		case ActionTemperature:
			celsius, err := cast.ToFloat64E(payload)
			if err != nil {
				return fmt.Errorf("%w: %q", ErrBadPayload, payload)
			}
			return e.SetTemperature(ctx, celsius)
		case ActionPreset:
			return e.SetPresetMode(ctx, strings.ToLower(payload))
		}
	case entity.Lockable:
		switch {
		case strings.EqualFold(payload, PayloadLock):
			return e.Lock(ctx)
		case strings.EqualFold(payload, PayloadUnlock):
			return e.Unlock(ctx)
		}
	case entity.Armable:
		switch {
		case strings.EqualFold(payload, PayloadArmAway):
			return e.ArmAway(ctx)
		case strings.EqualFold(payload, PayloadDisarm):
			return e.Disarm(ctx)
		}
	case entity.Openable:
		switch {
		case strings.EqualFold(payload, PayloadOpen):
			return e.Open(ctx)
		case strings.EqualFold(payload, PayloadClose):
			return e.Close(ctx)
		}
	case entity.Toggle:
		switch {
		case strings.EqualFold(payload, PayloadOn):
			return e.TurnOn(ctx)
		case strings.EqualFold(payload, PayloadOff):
			return e.TurnOff(ctx)
		}
	case entity.Settable:
		value, err := cast.ToFloat64E(payload)
		if err != nil {
			return fmt.Errorf("%w: %q", ErrBadPayload, payload)
		}
		return e.SetValue(ctx, value)
	case entity.Pressable:
		if strings.EqualFold(payload, PayloadPress) {
			return e.Press(ctx)
		}
	case entity.Installer:
		if strings.EqualFold(payload, PayloadInstall) {
			return e.Install(ctx, "")
		}
	}
	return fmt.Errorf("%w: %q for %s", ErrBadPayload, payload, r.entity.UniqueID())
}

func rejected(err error) bool {
	return errors.Is(err, teslafi.ErrAPI) ||
		errors.Is(err, teslafi.ErrCommandRejected) ||
		errors.Is(err, entity.ErrNotSupported) ||
		errors.Is(err, entity.ErrEmptyResponse)
}

func (b *Bridge) notify(ctx context.Context, title, message string) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.Notify(ctx, title, message); err != nil {
		b.logger.Warn("Failed to send notification", zap.Error(err))
	}
}
