package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/loom-protocol/loom-go/pkg/logical"
	"github.com/loom-protocol/loom-go/pkg/mesh"
	"github.com/loom-protocol/loom-go/pkg/node"
	"github.com/loom-protocol/loom-go/pkg/wire"
)

// shell is the interactive command loop. Every command that touches the
// dispatcher is scheduled onto the node's event loop.
type shell struct {
	n  *node.Node
	rl *readline.Instance
}

func newShell(n *node.Node) (*shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "loom> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &shell{n: n, rl: rl}, nil
}

// Run starts the interactive command loop.
func (s *shell) Run(ctx context.Context, cancel context.CancelFunc) {
	defer s.rl.Close()

	s.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := s.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			cancel()
			return
		}

		args := strings.Fields(strings.TrimSpace(line))
		if len(args) == 0 {
			continue
		}

		switch args[0] {
		case "help":
			s.printHelp()
		case "devices":
			s.cmdDevices()
		case "subs":
			s.cmdSubs(args[1:])
		case "exec":
			s.cmdExec(args[1:])
		case "fetch":
			s.cmdFetch(args[1:])
		case "sub":
			s.cmdSub(args[1:])
		case "unsub":
			s.cmdUnsub(args[1:])
		case "hello":
			s.cmdHello(args[1:])
		case "exit", "quit":
			cancel()
			return
		default:
			fmt.Fprintf(s.rl.Stdout(), "unknown command %q, try help\n", args[0])
		}
	}
}

func (s *shell) printHelp() {
	fmt.Fprint(s.rl.Stdout(), `Commands:
  devices                                     list hosted devices
  subs <port>                                 list a device's subscribers
  exec <phy> <port> <action> <hex> [status]   execute an action
  fetch <phy> <port> <action>                 fetch action data
  sub <phy> <port> <action> <id> <dur_s> <period_ms>
                                              start a subscription
  unsub <phy> <port> <id>                     stop a subscription
  hello <port>                                re-broadcast a device HELLO
  exit
`)
}

func (s *shell) cmdDevices() {
	done := make(chan struct{})
	s.n.Do(func(m *logical.Manager) {
		defer close(done)
		for _, d := range m.Devices() {
			fmt.Fprintf(s.rl.Stdout(), "  port %-5d %-20s %s actions=%d fields=%d\n",
				d.Port(), d.Name(), d.DeviceClass(), len(d.APIActions()), len(d.APIFields()))
		}
	})
	<-done
}

func (s *shell) cmdSubs(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "usage: subs <port>")
		return
	}
	port, err := parseUint16(args[0])
	if err != nil {
		fmt.Fprintln(s.rl.Stdout(), err)
		return
	}

	done := make(chan struct{})
	s.n.Do(func(m *logical.Manager) {
		defer close(done)
		d := m.Lookup(port)
		if d == nil {
			fmt.Fprintf(s.rl.Stdout(), "no device on port %d\n", port)
			return
		}
		for _, sub := range d.Subscriptions().Subscribers() {
			fmt.Fprintf(s.rl.Stdout(), "  id=%d action=%d addr=%s period=%dms end=%dus\n",
				sub.ID, sub.ActionID, sub.Addr, sub.Period, sub.EndTime)
		}
	})
	<-done
}

func (s *shell) cmdExec(args []string) {
	if len(args) < 4 {
		fmt.Fprintln(s.rl.Stdout(), "usage: exec <phy> <port> <action> <hex-payload> [status]")
		return
	}
	dst, actionID, err := parseTarget(args)
	if err != nil {
		fmt.Fprintln(s.rl.Stdout(), err)
		return
	}
	payload, err := hex.DecodeString(args[3])
	if err != nil {
		fmt.Fprintf(s.rl.Stdout(), "bad payload: %v\n", err)
		return
	}
	var execFlags wire.ActionExecuteFlags
	if len(args) > 4 && args[4] == "status" {
		execFlags = wire.FlagRequireStatusResponse
	}

	s.n.Do(func(m *logical.Manager) {
		exec := wire.ActionExecute{ActionID: actionID, RequestID: 1, Flags: execFlags, Payload: payload}
		pb, err := m.NewPacket(dst, shellPort, len(payload), wire.OverlayUnreliable, wire.OpActionExecute)
		if err != nil {
			return
		}
		if exec.Encode(pb.Payload()) != nil {
			pb.Abort()
			return
		}
		pb.Finish()
	})
}

func (s *shell) cmdFetch(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(s.rl.Stdout(), "usage: fetch <phy> <port> <action>")
		return
	}
	dst, actionID, err := parseTarget(args)
	if err != nil {
		fmt.Fprintln(s.rl.Stdout(), err)
		return
	}

	s.n.Do(func(m *logical.Manager) {
		fetch := wire.ActionFetch{ActionID: actionID, RequestID: 1}
		pb, err := m.NewPacket(dst, shellPort, 0, wire.OverlayUnreliable, wire.OpActionFetch)
		if err != nil {
			return
		}
		if fetch.Encode(pb.Payload()) != nil {
			pb.Abort()
			return
		}
		pb.Finish()
	})
}

func (s *shell) cmdSub(args []string) {
	if len(args) != 6 {
		fmt.Fprintln(s.rl.Stdout(), "usage: sub <phy> <port> <action> <id> <dur_s> <period_ms>")
		return
	}
	dst, actionID, err := parseTarget(args)
	if err != nil {
		fmt.Fprintln(s.rl.Stdout(), err)
		return
	}
	id, err1 := strconv.ParseUint(args[3], 10, 32)
	dur, err2 := strconv.ParseUint(args[4], 10, 16)
	period, err3 := strconv.ParseUint(args[5], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		fmt.Fprintln(s.rl.Stdout(), "bad id/duration/period")
		return
	}

	s.n.Do(func(m *logical.Manager) {
		start := wire.SubscriptionStart{
			ID: uint32(id), ActionID: actionID,
			DurationS: uint16(dur), PeriodMS: uint32(period),
		}
		pb, err := m.NewPacket(dst, shellPort, 0, wire.OverlayUnreliable, wire.OpSubscriptionStart)
		if err != nil {
			return
		}
		if start.Encode(pb.Payload()) != nil {
			pb.Abort()
			return
		}
		pb.Finish()
	})
}

func (s *shell) cmdUnsub(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(s.rl.Stdout(), "usage: unsub <phy> <port> <id>")
		return
	}
	phy, err1 := strconv.ParseUint(args[0], 10, 32)
	port, err2 := parseUint16(args[1])
	id, err3 := strconv.ParseUint(args[2], 10, 32)
	if err1 != nil || err2 != nil || err3 != nil {
		fmt.Fprintln(s.rl.Stdout(), "bad phy/port/id")
		return
	}
	dst := logical.Address{Phy: uint32(phy), Port: port}

	s.n.Do(func(m *logical.Manager) {
		stop := wire.SubscriptionStop{ID: uint32(id)}
		pb, err := m.NewPacket(dst, shellPort, 0, wire.OverlayUnreliable, wire.OpSubscriptionStop)
		if err != nil {
			return
		}
		if stop.Encode(pb.Payload()) != nil {
			pb.Abort()
			return
		}
		pb.Finish()
	})
}

func (s *shell) cmdHello(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.rl.Stdout(), "usage: hello <port>")
		return
	}
	port, err := parseUint16(args[0])
	if err != nil {
		fmt.Fprintln(s.rl.Stdout(), err)
		return
	}

	s.n.Do(func(m *logical.Manager) {
		d := m.Lookup(port)
		if d == nil {
			fmt.Fprintf(s.rl.Stdout(), "no device on port %d\n", port)
			return
		}
		m.SendHelloWorld(d, wire.OpHelloWorld, mesh.BroadcastAddr, wire.BroadcastPort)
	})
}

// shellPort is the source port shell-originated packets carry. Replies
// to it are dropped like any packet for an unknown port.
const shellPort uint16 = 0

func parseTarget(args []string) (logical.Address, uint16, error) {
	phy, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return logical.Address{}, 0, fmt.Errorf("bad phy address %q", args[0])
	}
	port, err := parseUint16(args[1])
	if err != nil {
		return logical.Address{}, 0, err
	}
	actionID, err := parseUint16(args[2])
	if err != nil {
		return logical.Address{}, 0, err
	}
	return logical.Address{Phy: uint32(phy), Port: port}, actionID, nil
}

func parseUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("bad value %q", s)
	}
	return uint16(v), nil
}
