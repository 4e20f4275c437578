// Command circ-pump controls a heating circulation pump from one-wire
// temperature sensors and publishes its state to MQTT.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/sweeney/circ-pump/internal/gpio"
	"github.com/sweeney/circ-pump/internal/logic"
	"github.com/sweeney/circ-pump/internal/metrics"
	"github.com/sweeney/circ-pump/internal/mqtt"
	"github.com/sweeney/circ-pump/internal/onewire"
	"github.com/sweeney/circ-pump/internal/sensors"
	"github.com/sweeney/circ-pump/internal/status"
	"github.com/sweeney/circ-pump/internal/store"
	"github.com/sweeney/circ-pump/internal/telemetry"
	"github.com/sweeney/circ-pump/internal/web"
)

type options struct {
	poll         time.Duration
	heartbeat    time.Duration
	broker       string
	httpAddr     string
	pinPump      int
	bus          string
	w1Root       string
	serialPort   string
	baudRate     int
	statePath    string
	slotPolicy   string
	autoAssign   bool
	publishAll   bool
	kafkaBrokers string
	kafkaTopic   string
	printState   bool
	scan         bool
}

func main() {
	var o options
	flag.DurationVar(&o.poll, "poll", 100*time.Millisecond, "Control loop tick interval")
	flag.DurationVar(&o.heartbeat, "heartbeat", 15*time.Minute, "Heartbeat interval (0 to disable)")
	flag.StringVar(&o.broker, "broker", "tcp://192.168.1.200:1883", "MQTT broker address")
	flag.StringVar(&o.httpAddr, "http", ":80", "HTTP status address (empty to disable)")
	flag.IntVar(&o.pinPump, "pin-pump", gpio.DefaultPinPump, "BCM pin number for the pump relay")
	flag.StringVar(&o.bus, "bus", "sysfs", `One-wire bus driver ("sysfs" or "serial")`)
	flag.StringVar(&o.w1Root, "w1-root", onewire.DefaultSysfsRoot, "w1 sysfs device directory")
	flag.StringVar(&o.serialPort, "serial-port", "/dev/ttyUSB0", "Serial port of the one-wire bridge")
	flag.IntVar(&o.baudRate, "baud", onewire.DefaultBaudRate, "Baud rate of the one-wire bridge")
	flag.StringVar(&o.statePath, "state", store.DefaultPath, "Path of the persisted parameter file")
	flag.StringVar(&o.slotPolicy, "slot-policy", sensors.KeepReserved.String(), `Whether reserved channels may be reassigned ("reserve" or "reassign")`)
	flag.BoolVar(&o.autoAssign, "auto-assign", false, "Assign new sensors to free channels at startup")
	flag.BoolVar(&o.publishAll, "publish-all", false, "Publish every reading, not only changes")
	flag.StringVar(&o.kafkaBrokers, "kafka-brokers", "", "Comma-separated Kafka brokers for telemetry (empty to disable)")
	flag.StringVar(&o.kafkaTopic, "kafka-topic", telemetry.DefaultTopic, "Kafka telemetry topic")
	flag.BoolVar(&o.printState, "print-state", false, "Read all channels once, print and exit")
	flag.BoolVar(&o.scan, "scan", false, "List the devices on the bus and exit")

	flag.Parse()

	if err := run(o); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func openBus(o options) (onewire.Bus, error) {
	switch o.bus {
	case "sysfs":
		return onewire.NewSysfsBus(o.w1Root), nil
	case "serial":
		b, err := onewire.OpenSerialBus(o.serialPort, o.baudRate)
		if err != nil {
			return nil, fmt.Errorf("open serial bus: %w", err)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown bus driver %q", o.bus)
}

func closeBus(bus onewire.Bus) {
	if c, ok := bus.(io.Closer); ok {
		c.Close()
	}
}

func run(o options) error {
	cfg, err := store.Load(o.statePath)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	policy, err := sensors.ParsePolicy(o.slotPolicy)
	if err != nil {
		return err
	}

	bus, err := openBus(o)
	if err != nil {
		return err
	}
	defer closeBus(bus)

	// One-shot modes
	if o.scan {
		return scanBus(os.Stdout, bus, cfg)
	}
	if o.printState {
		return printState(os.Stdout, bus, cfg)
	}

	relay, err := gpio.NewRealRelay(o.pinPump)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer relay.Close()

	bootID := uuid.NewString()

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(o.broker, "circ-pump-"+bootID[:8])
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	var sink telemetry.Sink = telemetry.Nop{}
	if o.kafkaBrokers != "" {
		sink = telemetry.NewKafkaSink(strings.Split(o.kafkaBrokers, ","), o.kafkaTopic, bootID)
		log.Printf("telemetry: writing to %s on %s", o.kafkaTopic, o.kafkaBrokers)
	}

	m := metrics.New()
	a := newApp(appOptions{
		Bus:        bus,
		Relay:      relay,
		Publisher:  publisher,
		Sink:       sink,
		Metrics:    m,
		Store:      cfg,
		StorePath:  o.statePath,
		Policy:     policy,
		AutoAssign: o.autoAssign,
		PublishAll: o.publishAll,
	})

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), status.Config{
		PollMs:      o.poll.Milliseconds(),
		HeartbeatMs: o.heartbeat.Milliseconds(),
		Broker:      o.broker,
		HTTPPort:    o.httpAddr,
		Bus:         o.bus,
		SlotPolicy:  policy.String(),
		AutoAssign:  o.autoAssign,
		BootID:      bootID,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	// Start HTTP status server
	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker, m.Handler())
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", o.httpAddr)
	}

	log.Printf("started: poll=%v bus=%s broker=%s heartbeat=%v policy=%s boot=%s", o.poll, o.bus, o.broker, o.heartbeat, policy, bootID)

	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(a, tracker, publisher, o.heartbeat, time.Now, ticker.C, publisher.Commands(), sigCh)
}

// millisSince converts wall time since start to the controller's wrapping
// millisecond clock.
func millisSince(start, t time.Time) logic.Millis {
	return logic.Millis(uint32(t.Sub(start).Milliseconds()))
}

func runLoop(a *app, tracker *status.Tracker, mqttStatus mqtt.ConnectionStatus, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, cmds <-chan mqtt.Command, sig <-chan os.Signal) error {
	startTime := now()
	hb := logic.NewHeartbeat(startTime)

	a.start(millisSince(startTime, startTime))
	if tracker != nil {
		a.updateTracker(tracker, 0)
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	// Publish startup event with full status snapshot
	startup := mqtt.SystemEvent{Timestamp: startTime, Event: "STARTUP", Retained: true}
	if tracker != nil {
		startup.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "STARTUP", "")
	}
	if err := a.publisher.PublishSystem(startup); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	for {
		select {
		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			a.shutdown()
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			if tracker != nil {
				if mqttStatus != nil {
					tracker.SetMQTTConnected(mqttStatus.IsConnected())
				}
				event.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "SHUTDOWN", signalName)
			}
			if err := a.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case cmd := <-cmds:
			if err := a.applyCommand(cmd); err != nil {
				log.Printf("command %s rejected: %v", cmd, err)
				continue
			}
			log.Printf("command %s applied", cmd)

		case <-tick:
			t := now()
			ms := millisSince(startTime, t)
			a.tick(ms)

			// Update status tracker for HTTP consumers
			if tracker != nil {
				a.updateTracker(tracker, ms)
				if mqttStatus != nil {
					connected := mqttStatus.IsConnected()
					tracker.SetMQTTConnected(connected)
					a.metrics.SetMQTTConnected(connected)
				}
			}

			// Check for heartbeat
			if hbData := hb.Check(t, heartbeat); hbData != nil {
				counts := a.controller.EventCountsSnapshot()
				log.Printf("heartbeat: uptime=%v pump=%s filtered=%d pump_on=%d pump_off=%d",
					hbData.Uptime, a.controller.State(), a.controller.Filtered(), counts.PumpOn, counts.PumpOff)

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
					hbEvent.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), "HEARTBEAT", "")
				}
				if err := a.publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
