package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Options configures a Client.
type Options struct {
	URL               string
	ClientID          string
	AvailabilityTopic string // registered as last will and announced on connect
	InsecureTLS       bool
}

// Client wraps the MQTT client with additional functionality
type Client struct {
	client            mqtt.Client
	availabilityTopic string
	logger            *logrus.Logger

	mu         sync.Mutex
	onConnect  []func()
	subscribed map[string]mqtt.MessageHandler
}

// brokerURL converts the user facing scheme to the one paho expects.
func brokerURL(parsed *url.URL, raw string) (string, bool, error) {
	switch parsed.Scheme {
	case "ws":
		return raw, false, nil
	case "wss":
		return raw, true, nil
	case "mqtt", "tcp":
		return strings.Replace(raw, parsed.Scheme+"://", "tcp://", 1), false, nil
	case "mqtts", "ssl", "tls":
		return strings.Replace(raw, parsed.Scheme+"://", "ssl://", 1), true, nil
	default:
		return "", false, fmt.Errorf("unsupported protocol scheme: %s (supported: ws, wss, mqtt, mqtts)", parsed.Scheme)
	}
}

// NewClient connects to the broker in opts.URL. The availability topic, when
// set, is registered as a retained "offline" will and receives a retained
// "online" on every (re)connect.
func NewClient(opts Options, logger *logrus.Logger) (*Client, error) {
	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT URL: %w", err)
	}
	broker, secure, err := brokerURL(parsedURL, opts.URL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		availabilityTopic: opts.AvailabilityTopic,
		logger:            logger,
		subscribed:        make(map[string]mqtt.MessageHandler),
	}

	mo := mqtt.NewClientOptions()
	mo.AddBroker(broker)
	mo.SetClientID(opts.ClientID)
	mo.SetCleanSession(true)
	mo.SetAutoReconnect(true)
	mo.SetKeepAlive(60 * time.Second)
	mo.SetPingTimeout(5 * time.Second)
	mo.SetConnectTimeout(5 * time.Second)
	mo.SetMaxReconnectInterval(10 * time.Second)
	if secure {
		// Self-signed broker certificates are common on home networks.
		mo.SetTLSConfig(&tls.Config{InsecureSkipVerify: opts.InsecureTLS})
	}
	if opts.AvailabilityTopic != "" {
		mo.SetWill(opts.AvailabilityTopic, PayloadOffline, 1, true)
	}

	if parsedURL.User != nil {
		username := parsedURL.User.Username()
		password, _ := parsedURL.User.Password()
		mo.SetUsername(username)
		mo.SetPassword(password)
	}

	mo.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})
	mo.SetReconnectingHandler(func(client mqtt.Client, opts *mqtt.ClientOptions) {
		logger.Debug("MQTT reconnecting...")
	})

	firstConnect := true
	mo.SetOnConnectHandler(func(client mqtt.Client) {
		if firstConnect {
			logger.Debug("MQTT connected")
			firstConnect = false
		} else {
			logger.Info("MQTT reconnected")
		}
		// Handlers run on paho's goroutine; publishing from here must not
		// wait on the token.
		go c.handleConnect()
	})

	c.client = mqtt.NewClient(mo)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.WithFields(logrus.Fields{
		"broker":    cleanURL(opts.URL),
		"protocol":  parsedURL.Scheme,
		"client_id": opts.ClientID,
	}).Info("MQTT client connected")

	return c, nil
}

func (c *Client) handleConnect() {
	if c.availabilityTopic != "" {
		if err := c.PublishAvailability(true); err != nil {
			c.logger.WithError(err).Warn("Failed to announce availability")
		}
	}

	c.mu.Lock()
	subs := make(map[string]mqtt.MessageHandler, len(c.subscribed))
	for topic, h := range c.subscribed {
		subs[topic] = h
	}
	hooks := append([]func(){}, c.onConnect...)
	c.mu.Unlock()

	// Clean sessions drop subscriptions on reconnect.
	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			c.logger.WithError(err).WithField("topic", topic).Warn("Failed to resubscribe")
		}
	}
	for _, fn := range hooks {
		fn()
	}
}

// OnConnect registers fn to run after every reconnect.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.mu.Unlock()
}

// Publish publishes a message to the specified topic
func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	qos := byte(1) // At least once delivery
	token := c.client.Publish(topic, qos, retained, payload)

	const pubTimeout = 5 * time.Second
	if !token.WaitTimeout(pubTimeout) {
		return fmt.Errorf("publish to topic %s timed out after %s", topic, pubTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	c.logger.WithFields(logrus.Fields{
		"topic":    topic,
		"size":     len(payload),
		"retained": retained,
	}).Debug("Published MQTT message")

	return nil
}

// Subscribe subscribes to a topic with a handler receiving the raw payload.
// The subscription is restored after reconnects.
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	h := func(_ mqtt.Client, m mqtt.Message) { handler(m.Topic(), m.Payload()) }
	c.mu.Lock()
	c.subscribed[topic] = h
	c.mu.Unlock()
	return c.subscribe(topic, h)
}

func (c *Client) subscribe(topic string, h mqtt.MessageHandler) error {
	token := c.client.Subscribe(topic, 1, h)

	const subTimeout = 5 * time.Second
	if !token.WaitTimeout(subTimeout) {
		return fmt.Errorf("subscribe to topic %s timed out after %s", topic, subTimeout)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	c.logger.WithField("topic", topic).Debug("Subscribed to MQTT topic")
	return nil
}

// IsConnected returns true if the client is connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect marks the bridge offline and disconnects.
func (c *Client) Disconnect(quiesce uint) {
	if c.availabilityTopic != "" && c.IsConnected() {
		if err := c.PublishAvailability(false); err != nil {
			c.logger.WithError(err).Debug("Failed to publish offline availability")
		}
	}
	c.client.Disconnect(quiesce)
	c.logger.Debug("MQTT client disconnected")
}

// PublishAvailability publishes the bridge availability status.
func (c *Client) PublishAvailability(online bool) error {
	status := PayloadOffline
	if online {
		status = PayloadOnline
	}
	return c.Publish(c.availabilityTopic, []byte(status), true)
}

// cleanURL removes credentials from URL for logging
func cleanURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	if parsed.User != nil {
		parsed.User = url.UserPassword("***", "***")
	}

	return parsed.String()
}

// BuildCleanTopic joins topic segments, replacing characters that are not
// valid in a single MQTT topic level.
func BuildCleanTopic(parts ...string) string {
	var cleanParts []string
	for _, part := range parts {
		clean := strings.ReplaceAll(part, " ", "_")
		clean = strings.ReplaceAll(clean, "+", "plus")
		clean = strings.ReplaceAll(clean, "#", "hash")
		clean = strings.ReplaceAll(clean, "/", "_")
		clean = strings.ToLower(clean)
		cleanParts = append(cleanParts, clean)
	}
	return strings.Join(cleanParts, "/")
}
