// Package mqttbridge mirrors hub activity onto an MQTT broker and accepts
// directed commands from it. The bridge is optional; without a broker URL
// the server runs identically.
package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/snarg/robohub/internal/database"
	"github.com/snarg/robohub/internal/events"
)

const (
	eventTopicPrefix = "robohub/events/"
	commandTopic     = "robohub/command/+"
	connectTimeout   = 10 * time.Second
	dispatchTimeout  = 10 * time.Second
)

// Dispatcher issues a directed command. Implemented by the command router.
type Dispatcher interface {
	Dispatch(ctx context.Context, deviceType, commandName string, payload map[string]any, ackTimeout time.Duration) (database.CommandRow, error)
}

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
}

type Bridge struct {
	client     mqtt.Client
	bus        *events.Bus
	dispatcher Dispatcher
	log        zerolog.Logger
	cancel     func()
	done       chan struct{}
}

func New(opts Options, bus *events.Bus, dispatcher Dispatcher, log zerolog.Logger) *Bridge {
	b := &Bridge{
		bus:        bus,
		dispatcher: dispatcher,
		log:        log.With().Str("component", "mqtt").Logger(),
		done:       make(chan struct{}),
	}

	co := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			b.log.Warn().Err(err).Msg("mqtt connection lost")
		}).
		SetOnConnectHandler(func(c mqtt.Client) {
			b.log.Info().Str("broker", opts.BrokerURL).Msg("mqtt connected")
			// Resubscribe after every (re)connect.
			if token := c.Subscribe(commandTopic, 1, b.handleCommand); token.Wait() && token.Error() != nil {
				b.log.Error().Err(token.Error()).Msg("mqtt subscribe failed")
			}
		})

	b.client = mqtt.NewClient(co)
	return b
}

// Start connects to the broker and begins mirroring bus events. The event
// mirror runs until Stop.
func (b *Bridge) Start() error {
	token := b.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("mqtt connect timed out")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	ch, cancel := b.bus.Subscribe(events.Filter{})
	b.cancel = cancel
	go func() {
		defer close(b.done)
		for e := range ch {
			b.publish(e)
		}
	}()
	return nil
}

// Stop unsubscribes from the bus, waits for the mirror goroutine to drain,
// and disconnects from the broker.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
		<-b.done
	}
	b.client.Disconnect(250)
}

func (b *Bridge) publish(e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	token := b.client.Publish(eventTopicPrefix+e.Type, 0, false, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			b.log.Warn().Err(token.Error()).Str("type", e.Type).Msg("mqtt publish failed")
		}
	}()
}

// handleCommand dispatches a command received as robohub/command/<device_type>
// with a JSON body of {"command_name": ..., "payload": {...}}.
func (b *Bridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	deviceType := parts[len(parts)-1]

	var body struct {
		CommandName string         `json:"command_name"`
		Payload     map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(msg.Payload(), &body); err != nil {
		b.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("malformed mqtt command, dropped")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	rec, err := b.dispatcher.Dispatch(ctx, deviceType, body.CommandName, body.Payload, 0)
	if err != nil {
		b.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("mqtt command rejected")
		return
	}
	b.log.Info().
		Str("command_id", rec.CommandID).
		Str("device_type", deviceType).
		Str("command_name", body.CommandName).
		Msg("mqtt command dispatched")
}
