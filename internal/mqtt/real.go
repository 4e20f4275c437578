package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// DefaultOutboxSize is the number of messages held while disconnected.
const DefaultOutboxSize = 256

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are queued and replayed on reconnect.
type RealPublisher struct {
	client   paho.Client
	commands chan Command

	mu        sync.Mutex
	outbox    *outbox
	connected bool
	connects  int
}

// NewRealPublisher creates a publisher for the given broker. The connection
// is retried in the background if the broker is unreachable at startup.
func NewRealPublisher(broker, clientID string) (*RealPublisher, error) {
	p := &RealPublisher{
		commands: make(chan Command, 16),
		outbox:   newOutbox(DefaultOutboxSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		log.Printf("mqtt: broker %s not reachable yet, retrying in background", broker)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Commands returns the channel on which parameter commands are delivered.
func (p *RealPublisher) Commands() <-chan Command {
	return p.commands
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.connects++
	reconnect := p.connects > 1
	queued := p.outbox.drain()
	p.mu.Unlock()

	token := c.Subscribe(TopicSet+"/#", 1, p.onCommand)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("mqtt: subscribe: %v", token.Error())
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "RECONNECTED"})
		c.Publish(TopicSystem, 1, true, payload)
	}
	if len(queued) > 0 {
		log.Printf("mqtt: replaying %d queued messages", len(queued))
	}
	for _, m := range queued {
		c.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	log.Printf("mqtt: connection lost: %v", err)
}

func (p *RealPublisher) onCommand(_ paho.Client, msg paho.Message) {
	cmd, err := ParseCommand(msg.Topic(), msg.Payload())
	if err != nil {
		log.Printf("mqtt: ignoring command: %v", err)
		return
	}
	select {
	case p.commands <- cmd:
	default:
		log.Printf("mqtt: command queue full, dropping %s", cmd)
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.outbox.push(outboxMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// PublishPump sends a pump transition.
func (p *RealPublisher) PublishPump(event PumpEvent) error {
	payload, err := FormatPumpPayload(event)
	if err != nil {
		return fmt.Errorf("format pump payload: %w", err)
	}
	// QoS 1 so consumers see every transition
	return p.publish(TopicPump, 1, false, payload)
}

// PublishTemperature sends a channel reading.
func (p *RealPublisher) PublishTemperature(r Reading) error {
	payload, err := FormatTemperaturePayload(r)
	if err != nil {
		return fmt.Errorf("format temperature payload: %w", err)
	}
	return p.publish(TemperatureTopic(r.Channel), 0, false, payload)
}

// PublishAssignment sends a sensor assignment. Retained so late subscribers
// learn the current binding.
func (p *RealPublisher) PublishAssignment(a Assignment) error {
	payload, err := FormatAddressPayload(a)
	if err != nil {
		return fmt.Errorf("format address payload: %w", err)
	}
	return p.publish(TopicAddress, 1, true, payload)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.publish(TopicSystem, 1, event.Retained, payload)
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
