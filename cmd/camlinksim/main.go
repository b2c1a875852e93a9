// SPDX-License-Identifier: MIT

// camlinksim exercises the coordination layer against an in-memory radio.
// It forms a private group with a simulated camera, exchanges one framed
// request/response, then tears the group down.
//
// Usage:
//
//	camlinksim [-f config.yaml] [-payload "text"]
//
// Exit codes:
//   - 0: simulation completed
//   - 1: a coordination step failed
//   - 2: usage or configuration error
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/camlink/camlink"
	"github.com/camlink/camlink/internal/chunked"
	"github.com/camlink/camlink/internal/lifecycle"
	"github.com/camlink/camlink/internal/transport"
)

var Version = "dev"

const peer = camlink.PeerID("sim-camera")

type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, _ camlink.PeerID, request []byte) ([]byte, error) {
	return append([]byte("echo:"), request...), nil
}

// simControl acknowledges every group request and reports completion
// through the manager, the way a radio stack's event thread would.
type simControl struct {
	groups *lifecycle.Manager
}

func (c *simControl) FormGroup(camlink.Session) camlink.Status {
	go c.groups.OnGroupFormed()
	return transport.StatusSuccess
}

func (c *simControl) RemoveGroup(camlink.Session) camlink.Status {
	go c.groups.OnGroupRemoved()
	return transport.StatusSuccess
}

func (c *simControl) CancelFormation(camlink.Session) bool { return false }

func main() {
	var file string
	var payload string
	var showVersion bool

	flag.StringVar(&file, "file", "", "path to YAML configuration file")
	flag.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	flag.StringVar(&payload, "payload", "get-battery-level", "request payload to send")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(Version)
		os.Exit(0)
	}

	cfg := camlink.DefaultConfig()
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: read %s: %v\n", file, err)
			os.Exit(2)
		}
		cfg, err = camlink.ConfigFromYAML(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Configuration error in %s:\n  %v\n", file, err)
			os.Exit(2)
		}
	}

	if err := run(cfg, payload); err != nil {
		fmt.Fprintf(os.Stderr, "Simulation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ simulation completed")
}

func run(cfg camlink.Config, payload string) error {
	radio := transport.NewFakeRadio()
	ctrl := &simControl{}

	c, err := camlink.New(cfg, radio, ctrl, echoHandler{})
	if err != nil {
		return err
	}
	ctrl.groups = c.Groups()
	radio.Bind(c.Callbacks())

	ctx := context.Background()
	if err := c.Open(ctx); err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	groups := c.Groups()
	groups.SetRadioEnabled(true)
	groups.Start(peer)
	if err := waitState(groups, lifecycle.StateActive); err != nil {
		return err
	}
	fmt.Printf("group active, session %s\n", groups.Session().ID)

	cb := c.Callbacks()
	cb.OnPeerConnected(peer)
	cb.OnFragmentReceived(peer, "control", 0, chunked.Frame([]byte(payload)), false)

	var reply []byte
	for _, f := range radio.Sent() {
		reply = append(reply, f.Value...)
	}
	decoded, err := chunked.Unframe(reply)
	if err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	fmt.Printf("request %q answered with %q in %d fragments\n", payload, decoded, len(radio.Sent()))

	groups.Stop()
	if err := waitState(groups, lifecycle.StateIdle); err != nil {
		return err
	}
	fmt.Println("group removed")
	return nil
}

func waitState(groups *lifecycle.Manager, want lifecycle.State) error {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if groups.State() == want {
			return nil
		}
		time.Sleep(2 * time.Millisecond)
	}
	return fmt.Errorf("state %s not reached within 5s (now %s)", want, groups.State())
}
