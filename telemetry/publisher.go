// Package telemetry mirrors cycle results to an MQTT broker so a stress
// run can be watched live without pulling the card.
package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	sdstress "github.com/Di-Ny/heltec-ab0-sdcard-stress-test"
	"github.com/denisbrodbeck/machineid"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"
)

const defaultTopic = "sdstress/cycles"

// Options configures a Publisher. BrokerURL is required; the rest have
// workable defaults.
type Options struct {
	// BrokerURL is the broker endpoint, e.g. "tcp://host:1883".
	BrokerURL string
	// ClientID overrides the machine-derived client identity.
	ClientID string
	// Topic defaults to "sdstress/cycles".
	Topic string
	// ConnectTimeout defaults to 10 seconds.
	ConnectTimeout time.Duration
}

// Publisher ships one JSON document per cycle to a broker at QoS 0. A
// dropped message is acceptable; the card itself is the durable record.
type Publisher struct {
	client mqtt.Client
	topic  string
}

// clientIdentity derives a stable per-machine client ID so reconnects
// from the same rig displace their own stale session on the broker.
func clientIdentity() string {
	id, err := machineid.ProtectedID("sdstress")
	if err != nil {
		glog.Warningf("machine identity unavailable, using a transient client ID: %v", err)
		return fmt.Sprintf("sdstress-%d", time.Now().UnixNano())
	}
	return "sdstress-" + id[:12]
}

// NewPublisher connects to the broker and returns a ready Publisher.
func NewPublisher(options Options) (*Publisher, error) {
	topic := options.Topic
	if topic == "" {
		topic = defaultTopic
	}
	clientID := options.ClientID
	if clientID == "" {
		clientID = clientIdentity()
	}
	timeout := options.ConnectTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	clientOptions := mqtt.NewClientOptions().
		AddBroker(options.BrokerURL).
		SetClientID(clientID).
		SetConnectTimeout(timeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(clientOptions)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("MQTT connect to %s failed: %s", options.BrokerURL, err.Error())
	}

	glog.V(1).Infof("telemetry connected to %s as %s, topic %s",
		options.BrokerURL, clientID, topic)
	return &Publisher{client: client, topic: topic}, nil
}

// Publish sends one cycle record. Errors are returned, not retried; the
// caller decides whether a telemetry failure matters.
func (p *Publisher) Publish(record sdstress.CSVRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	token := p.client.Publish(p.topic, 0, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s failed: %s", p.topic, err.Error())
	}
	glog.V(2).Infof("published cycle %d", record.Cycle)
	return nil
}

// Close flushes in-flight messages and disconnects.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
