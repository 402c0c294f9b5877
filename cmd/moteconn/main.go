// Command moteconn is a small front-end over pkg/connection, combining the
// two reference scripts the original ships as examples: injector.py (send
// one hex-encoded message and exit) and sniffer.py (connect and print every
// inbound message forever). Usage:
//
//	moteconn inject <connection-string> <hex-payload>
//	moteconn sniff <connection-string>
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/librescoot/moteconnection/pkg/connection"
	"github.com/librescoot/moteconnection/pkg/dispatch"
	"github.com/librescoot/moteconnection/pkg/telemetry/redisreporter"
	"github.com/librescoot/moteconnection/pkg/wire"
)

var (
	amID        = flag.Int("amid", 0x76, "active message type")
	destination = flag.Int("dest", int(wire.AMBroadcastAddr), "destination address")
	source      = flag.Int("src", 0xCCC4, "source address")
	reconnect   = flag.Duration("reconnect", 10*time.Second, "reconnect period, 0 to attempt once")
	redisAddr   = flag.String("redis-addr", "", "optional redis address for connection telemetry")
	redisPass   = flag.String("redis-pass", "", "redis password")
	redisDB     = flag.Int("redis-db", 0, "redis database number")
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		usage()
		os.Exit(2)
	}

	switch args[0] {
	case "inject":
		if len(args) != 3 {
			usage()
			os.Exit(2)
		}
		runInject(args[1], args[2])
	case "sniff":
		runSniff(args[1])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage:\n  %s inject <connection-string> <hex-payload>\n  %s sniff <connection-string>\n",
		os.Args[0], os.Args[0])
	flag.PrintDefaults()
}

// heartbeatPeriod is how often buildConnection mirrors a liveness
// timestamp into Redis when telemetry is enabled.
const heartbeatPeriod = 30 * time.Second

func buildConnection(connString string) (*connection.Connection, *dispatch.MessageDispatcher, func()) {
	var reporter *redisreporter.Reporter
	connOpts := []connection.Option{connection.WithLogger(log.Default())}
	c := connection.New(connOpts...)

	cleanup := func() {}
	if *redisAddr != "" {
		var err error
		reporter, err = redisreporter.New(*redisAddr, *redisPass, *redisDB)
		if err != nil {
			log.Printf("redis telemetry disabled: %v", err)
			reporter = nil
		} else {
			stopHeartbeat := make(chan struct{})
			go func() {
				ticker := time.NewTicker(heartbeatPeriod)
				defer ticker.Stop()
				for {
					select {
					case now := <-ticker.C:
						reporter.ReportHeartbeat(now)
					case <-stopHeartbeat:
						return
					}
				}
			}()
			cleanup = func() {
				close(stopHeartbeat)
				_ = reporter.Close()
			}
		}
	}

	connectOpts := []connection.ConnectOption{
		connection.OnConnected(func() {
			log.Printf("connected to %s", connString)
			if reporter != nil {
				reporter.OnConnected(connString)()
			}
		}),
		connection.OnDisconnected(func() {
			log.Printf("disconnected from %s", connString)
			if reporter != nil {
				reporter.OnDisconnected()
			}
		}),
		connection.OnDrop(func() {
			if reporter != nil {
				reporter.ReportDrop()
			}
		}),
	}
	if *reconnect > 0 {
		connectOpts = append(connectOpts, connection.WithReconnect(*reconnect))
	}

	dispatcher := dispatch.NewMessageDispatcher(
		dispatch.WithAddress(uint16(*source)),
		dispatch.WithLogger(log.Default()),
		dispatch.WithOnDrop(func() {
			if reporter != nil {
				reporter.ReportDrop()
			}
		}),
	)
	c.RegisterDispatcher(dispatcher)

	if err := c.Connect(connString, connectOpts...); err != nil {
		log.Fatalf("connect: %v", err)
	}

	return c, dispatcher, cleanup
}

func runInject(connString, hexPayload string) {
	payload, err := hex.DecodeString(hexPayload)
	if err != nil {
		log.Fatalf("invalid hex payload %q: %v", hexPayload, err)
	}

	c, dispatcher, cleanup := buildConnection(connString)
	defer cleanup()

	time.Sleep(200 * time.Millisecond)

	m := wire.NewMessage(dispatcher.DispatchByte())
	m.Destination = uint16(*destination)
	m.Type = byte(*amID)
	m.Payload = payload

	done := make(chan bool, 1)
	m.Callback = func(msg *wire.Message, delivered bool) { done <- delivered }

	if err := dispatcher.SendMessage(m); err != nil {
		log.Fatalf("send: %v", err)
	}

	select {
	case ok := <-done:
		if !ok {
			log.Printf("message was not delivered")
		}
	case <-time.After(2 * time.Second):
		log.Printf("timed out waiting for delivery confirmation")
	}

	time.Sleep(200 * time.Millisecond)
	c.Disconnect()
	c.Join()
}

func runSniff(connString string) {
	c, dispatcher, cleanup := buildConnection(connString)
	defer cleanup()

	print := dispatch.MessageCallback(func(m *wire.Message) {
		lqi, hasLQI := m.LQI()
		rssi, hasRSSI := m.RSSI()
		if hasLQI && hasRSSI {
			log.Printf("{%02X}%04X->%04X[%02X] %3d: %s lqi=%d rssi=%d",
				effectiveGroup(m), effectiveSource(m), m.Destination, m.Type, len(m.Payload), hex.EncodeToString(m.Payload), lqi, rssi)
		} else {
			log.Printf("{%02X}%04X->%04X[%02X] %3d: %s",
				effectiveGroup(m), effectiveSource(m), m.Destination, m.Type, len(m.Payload), hex.EncodeToString(m.Payload))
		}
	})
	dispatcher.RegisterDefaultReceiver(print)
	dispatcher.RegisterDefaultSnooper(print)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("shutting down")
	c.Disconnect()
	c.Join()
}

func effectiveGroup(m *wire.Message) byte {
	if m.Group == nil {
		return 0
	}
	return *m.Group
}

func effectiveSource(m *wire.Message) uint16 {
	if m.Source == nil {
		return 0
	}
	return *m.Source
}
