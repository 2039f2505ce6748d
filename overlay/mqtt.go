package overlay

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// DefaultPublishPrefix is the topic prefix used when none is configured.
const DefaultPublishPrefix = "travelmap"

// ViewportCommandHandler applies a viewport command received over MQTT.
type ViewportCommandHandler func(cmd ViewportCommand) error

// MQTTClient manages the broker connection and the viewport command
// subscription.
type MQTTClient struct {
	client      mqtt.Client
	prefix      string
	onViewport  ViewportCommandHandler
	onConnected func()
	isConnected bool
	mu          sync.RWMutex
}

// InitMQTT creates a client from config and environment and starts
// connecting in the background. If neither MQTT_BROKER nor mqtt.broker is
// set, MQTT is disabled and this returns nil.
func InitMQTT(config *Config, handler ViewportCommandHandler) (*MQTTClient, error) {
	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if handler == nil {
		return nil, fmt.Errorf("MQTT enabled but no viewport handler provided")
	}

	var mc MQTTConfig
	if config != nil {
		mc = config.MQTT
	}

	c := &MQTTClient{
		prefix:     resolvePrefix(mc.PublishPrefix),
		onViewport: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && mc.ClientID != "" {
		clientID = mc.ClientID
	}
	if clientID == "" {
		clientID = "travelmap"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && mc.Username != "" {
		username = mc.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && mc.Password != "" {
			password = mc.Password
		}
		opts.SetPassword(password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(false)
	// Viewport commands must apply in arrival order.
	opts.SetOrderMatters(true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.client = mqtt.NewClient(opts)

	go c.connectWithRetry()

	return c, nil
}

// resolvePrefix picks the topic prefix: env, then config, then the default.
func resolvePrefix(configured string) string {
	if p := os.Getenv("MQTT_PUBLISH_PREFIX"); p != "" {
		return p
	}
	if configured != "" {
		return configured
	}
	return DefaultPublishPrefix
}

// ViewportCommandTopic is the topic viewport commands arrive on.
func (c *MQTTClient) ViewportCommandTopic() string {
	return c.prefix + "/viewport/set"
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("[MQTT] Connecting to broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("[MQTT] Connected to broker")
				c.setConnected(true)
				return
			}
			log.Printf("[MQTT] Connection failed: %v", token.Error())
		} else {
			log.Println("[MQTT] Connection timeout")
		}

		log.Printf("[MQTT] Retrying connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.setConnected(true)

	topic := c.ViewportCommandTopic()
	log.Printf("[MQTT] Subscribing to %s", topic)
	token := client.Subscribe(topic, 0, c.createViewportHandler())
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("[MQTT] Error subscribing to %s: %v", topic, token.Error())
		return
	}
	log.Printf("[MQTT] Subscribed to %s", topic)

	c.mu.RLock()
	hook := c.onConnected
	c.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

// SetOnConnected registers a hook run after every (re)connect once the
// command subscription is in place. Retained state is republished from here.
func (c *MQTTClient) SetOnConnected(f func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = f
}

func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("[MQTT] Reconnecting...")
}

// createViewportHandler decodes viewport commands and hands them to the
// registered handler. Malformed payloads are logged and dropped.
func (c *MQTTClient) createViewportHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		var cmd ViewportCommand
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			log.Printf("[MQTT] Invalid viewport command on %s: %v", msg.Topic(), err)
			return
		}
		if err := c.onViewport(cmd); err != nil {
			log.Printf("[MQTT] Viewport command rejected: %v", err)
		}
	}
}

// IsConnected returns true if the MQTT client is connected
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("[MQTT] Disconnecting from broker...")
		c.client.Disconnect(250)
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// Prefix returns the topic prefix in use.
func (c *MQTTClient) Prefix() string {
	return c.prefix
}

// newMQTTClientWithMock wraps an existing mqtt.Client, for tests.
func newMQTTClientWithMock(client mqtt.Client, prefix string, handler ViewportCommandHandler) *MQTTClient {
	return &MQTTClient{
		client:     client,
		prefix:     resolvePrefix(prefix),
		onViewport: handler,
	}
}
