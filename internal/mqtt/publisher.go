package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/city-bridge/internal/buildinfo"
	"github.com/nugget/city-bridge/internal/config"
	"github.com/nugget/city-bridge/internal/events"
)

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// BridgeInfo is the retained document at <prefix>/<device>/info.
type BridgeInfo struct {
	InstanceID string    `json:"instance_id"`
	Device     string    `json:"device"`
	Version    string    `json:"version"`
	Servers    []string  `json:"servers"`
	Started    time.Time `json:"started"`
}

// Invocation is the JSON payload of an invocation message.
type Invocation struct {
	Timestamp  time.Time `json:"ts"`
	Toolkit    string    `json:"toolkit"`
	Tool       string    `json:"tool"`
	Caller     string    `json:"caller"`
	OK         bool      `json:"ok"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Publisher forwards bus events to the broker.
type Publisher struct {
	cfg    config.MQTTConfig
	info   BridgeInfo
	logger *slog.Logger

	mu           sync.Mutex
	cm           *autopaho.ConnectionManager
	availability map[string]string // server -> Online/Offline
}

// New creates a Publisher but does not connect. servers names the MCP
// servers the bridge fronts.
func New(cfg config.MQTTConfig, instanceID string, servers []string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	sorted := append([]string(nil), servers...)
	sort.Strings(sorted)
	return &Publisher{
		cfg: cfg,
		info: BridgeInfo{
			InstanceID: instanceID,
			Device:     cfg.DeviceName,
			Version:    buildinfo.Version,
			Servers:    sorted,
			Started:    time.Now().UTC().Truncate(time.Second),
		},
		logger:       logger.With("component", "mqtt"),
		availability: make(map[string]string),
	}
}

// Run connects to the broker and forwards events from bus until ctx is
// cancelled. Connection failures are retried in the background; events
// published while disconnected are dropped.
func (p *Publisher) Run(ctx context.Context, bus *events.Bus) error {
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
			Payload: []byte(Offline),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishBirth(ctx, cm)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "citybridge-" + p.cfg.DeviceName,
		},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	// Subscribe before connecting so early health transitions are seen.
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			p.forward(ctx, cm, e)
		}
	}
}

// Stop publishes the bridge's offline state and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.mu.Unlock()
	if cm == nil {
		return nil
	}
	p.publish(ctx, cm, &paho.Publish{Topic: p.availabilityTopic(), Payload: []byte(Offline), QoS: 1, Retain: true})
	return cm.Disconnect(ctx)
}

func (p *Publisher) baseTopic() string {
	return p.cfg.TopicPrefix + "/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) infoTopic() string {
	return p.baseTopic() + "/info"
}

func (p *Publisher) serverAvailabilityTopic(server string) string {
	return p.baseTopic() + "/" + server + "/availability"
}

func (p *Publisher) invocationTopic(toolkit, tool string) string {
	return p.baseTopic() + "/" + toolkit + "/" + tool + "/invocation"
}

// message converts a bus event into the message to publish. Events
// with no MQTT form report false. Availability is remembered for
// re-publishing after a reconnect.
func (p *Publisher) message(e events.Event) (*paho.Publish, bool) {
	str := func(k string) string {
		s, _ := e.Data[k].(string)
		return s
	}

	switch e.Kind {
	case events.KindToolDone:
		inv := Invocation{
			Timestamp: e.Timestamp.UTC(),
			Toolkit:   str("toolkit"),
			Tool:      str("tool"),
			Caller:    str("caller"),
			Error:     str("error"),
		}
		inv.OK, _ = e.Data["ok"].(bool)
		inv.DurationMS, _ = e.Data["duration_ms"].(int64)
		payload, err := json.Marshal(inv)
		if err != nil {
			p.logger.Error("mqtt marshal invocation", "error", err)
			return nil, false
		}
		return &paho.Publish{Topic: p.invocationTopic(inv.Toolkit, inv.Tool), Payload: payload}, true

	case events.KindServerUp, events.KindServerDown:
		server := str("server")
		state := Online
		if e.Kind == events.KindServerDown {
			state = Offline
		}
		p.mu.Lock()
		p.availability[server] = state
		p.mu.Unlock()
		return &paho.Publish{Topic: p.serverAvailabilityTopic(server), Payload: []byte(state), QoS: 1, Retain: true}, true
	}
	return nil, false
}

// birth returns the messages sent on every (re-)connect.
func (p *Publisher) birth() []*paho.Publish {
	info, err := json.Marshal(p.info)
	if err != nil {
		p.logger.Error("mqtt marshal bridge info", "error", err)
	}

	msgs := []*paho.Publish{}
	if err == nil {
		msgs = append(msgs, &paho.Publish{Topic: p.infoTopic(), Payload: info, QoS: 1, Retain: true})
	}
	msgs = append(msgs, &paho.Publish{Topic: p.availabilityTopic(), Payload: []byte(Online), QoS: 1, Retain: true})

	p.mu.Lock()
	servers := make([]string, 0, len(p.availability))
	for s := range p.availability {
		servers = append(servers, s)
	}
	sort.Strings(servers)
	for _, s := range servers {
		msgs = append(msgs, &paho.Publish{
			Topic: p.serverAvailabilityTopic(s), Payload: []byte(p.availability[s]), QoS: 1, Retain: true,
		})
	}
	p.mu.Unlock()
	return msgs
}

func (p *Publisher) publishBirth(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, m := range p.birth() {
		p.publish(ctx, cm, m)
	}
}

func (p *Publisher) forward(ctx context.Context, cm *autopaho.ConnectionManager, e events.Event) {
	if m, ok := p.message(e); ok {
		p.publish(ctx, cm, m)
	}
}

func (p *Publisher) publish(ctx context.Context, cm *autopaho.ConnectionManager, m *paho.Publish) {
	if _, err := cm.Publish(ctx, m); err != nil {
		p.logger.Debug("mqtt publish failed", "topic", m.Topic, "error", err)
		return
	}
	p.logger.Log(ctx, config.LevelTrace, "mqtt published", "topic", m.Topic, "bytes", len(m.Payload))
}
