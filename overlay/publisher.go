package overlay

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/paulmach/orb/geojson"
)

// Publisher publishes route features and viewport state to MQTT. It is a
// Sink, so a Registry can hand it every recomputed collection.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool

	mu        sync.RWMutex
	published int
}

// viewportMessage is the payload of the {prefix}/viewport topic.
type viewportMessage struct {
	ViewportState
	Timestamp int64 `json:"timestamp"`
}

// NewPublisher creates a publisher. The prefix comes from
// MQTT_PUBLISH_PREFIX, then prefix, then DefaultPublishPrefix. A nil client
// disables publishing.
func NewPublisher(client mqtt.Client, prefix string) *Publisher {
	return &Publisher{
		client:        client,
		publishPrefix: resolvePrefix(prefix),
		qos:           0,    // fire and forget, the next recompute supersedes
		retain:        true, // late subscribers get the current routes
	}
}

// RoutesTopic is where feature collections are published.
func (p *Publisher) RoutesTopic() string {
	return p.publishPrefix + "/routes"
}

// ViewportTopic is where the viewport state is published.
func (p *Publisher) ViewportTopic() string {
	return p.publishPrefix + "/viewport"
}

// PublishFeatures publishes the collection to the routes topic.
func (p *Publisher) PublishFeatures(fc *geojson.FeatureCollection) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling routes: %w", err)
	}
	if err := p.publish(p.RoutesTopic(), payload); err != nil {
		return err
	}

	p.mu.Lock()
	p.published++
	p.mu.Unlock()
	return nil
}

// PublishViewport publishes the camera state to the viewport topic.
func (p *Publisher) PublishViewport(state ViewportState) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(viewportMessage{ViewportState: state, Timestamp: time.Now().Unix()})
	if err != nil {
		return fmt.Errorf("marshaling viewport: %w", err)
	}
	if err := p.publish(p.ViewportTopic(), payload); err != nil {
		return err
	}
	log.Printf("[MQTT] Published viewport center=(%.4f, %.4f) zoom=%.2f size=%dx%d",
		state.Center[0], state.Center[1], state.Zoom, state.Width, state.Height)
	return nil
}

func (p *Publisher) publish(topic string, payload []byte) error {
	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// Published returns how many collections were published successfully.
func (p *Publisher) Published() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.published
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
