// Package console provides the interactive command line for lightlink.
//
// Each command maps onto one client or controller operation. Client
// callbacks are printed above the prompt as they arrive.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/nerrad567/lightlink-core/internal/infrastructure/discovery"
	"github.com/nerrad567/lightlink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/lightlink-core/internal/journal"
	"github.com/nerrad567/lightlink-core/internal/lighting"
)

// maxPrintedPayload bounds how much of an incoming payload is echoed.
const maxPrintedPayload = 256

// commandTimeout bounds journal reads and discovery from the prompt.
const commandTimeout = 10 * time.Second

// Client is the MQTT client surface the console drives.
type Client interface {
	Connect()
	Disconnect()
	ForceReconnect()
	CheckConnectionAndReconnect()
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte) error
	Unsubscribe(topic string) error
	Stats() mqtt.Stats
	ClientID() string
}

// Lights is the lighting controller surface.
type Lights interface {
	Snapshot() lighting.Snapshot
	SetLevel(ch lighting.Channel, level int) error
}

// Journal reads recent entries.
type Journal interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// Discoverer browses for brokers.
type Discoverer interface {
	Discover(ctx context.Context) ([]discovery.Broker, error)
}

// Deps are the console's collaborators. Lights, Journal and Discoverer are
// optional.
type Deps struct {
	Client     Client
	Lights     Lights
	Journal    Journal
	Discoverer Discoverer
}

// Console handles interactive mode.
type Console struct {
	deps Deps
	rl   *readline.Instance
	out  io.Writer
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("status"),
	readline.PcItem("connect"),
	readline.PcItem("disconnect"),
	readline.PcItem("reconnect"),
	readline.PcItem("check"),
	readline.PcItem("pub"),
	readline.PcItem("sub"),
	readline.PcItem("unsub"),
	readline.PcItem("light",
		readline.PcItem(string(lighting.ChannelCold)),
		readline.PcItem(string(lighting.ChannelWarm)),
		readline.PcItem(string(lighting.ChannelRed)),
		readline.PcItem(string(lighting.ChannelBlue)),
	),
	readline.PcItem("journal"),
	readline.PcItem("discover"),
	readline.PcItem("help"),
	readline.PcItem("quit"),
)

// New creates a console on the terminal.
func New(deps Deps) (*Console, error) {
	if deps.Client == nil {
		return nil, errors.New("console: client is required")
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lightlink> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{deps: deps, rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that coordinates with the prompt. Log output
// should go here while the console runs.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run reads commands until quit, EOF or ctx is done. cancel is called when
// the user leaves so the daemon shuts down with the console.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	go func() {
		<-ctx.Done()
		c.rl.Close()
	}()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if c.Execute(ctx, line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Execute runs one command line and reports whether the user asked to quit.
func (c *Console) Execute(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "status", "s":
		c.cmdStatus()
	case "connect":
		c.deps.Client.Connect()
		fmt.Fprintln(c.out, "Connecting...")
	case "disconnect":
		c.deps.Client.Disconnect()
		fmt.Fprintln(c.out, "Disconnected")
	case "reconnect":
		c.deps.Client.ForceReconnect()
		fmt.Fprintln(c.out, "Reconnect forced")
	case "check":
		c.deps.Client.CheckConnectionAndReconnect()
		fmt.Fprintln(c.out, "Connection check started")
	case "pub", "publish":
		c.cmdPublish(args)
	case "sub", "subscribe":
		c.cmdSubscribe(args)
	case "unsub", "unsubscribe":
		c.cmdUnsubscribe(args)
	case "light", "l":
		c.cmdLight(args)
	case "journal", "j":
		c.cmdJournal(ctx, args)
	case "discover":
		c.cmdDiscover(ctx)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
LightLink Commands:
  Connection:
    status                           - Show connection and node state
    connect                          - Connect to the broker
    disconnect                       - Disconnect and stop reconnecting
    reconnect                        - Force a fresh connect cycle
    check                            - Probe the connection, reconnect if down

  Messaging:
    pub <topic> <payload> [qos] [retain]
    sub <topic> [qos]
    unsub <topic>

  Lighting:
    light <cold|warm|red|blue> <0-100>

  Other:
    journal [n]                      - Show the last n journal entries
    discover                         - Browse the LAN for brokers
    help                             - Show this help
    quit                             - Exit`)
}

func (c *Console) cmdStatus() {
	st := c.deps.Client.Stats()
	fmt.Fprintf(c.out, "Client:        %s\n", c.deps.Client.ClientID())
	fmt.Fprintf(c.out, "State:         %s\n", st.State)
	if st.Reconnecting {
		fmt.Fprintf(c.out, "Reconnecting:  attempt %d, next in %s\n", st.Attempts, st.CurrentBackoff)
	}
	fmt.Fprintf(c.out, "Connects:      %d (attempts %d)\n", st.Connects, st.TotalAttempts)
	fmt.Fprintf(c.out, "Messages:      %d in, %d out\n", st.MessagesIn, st.MessagesOut)
	fmt.Fprintf(c.out, "Subscriptions: %d\n", st.Subscriptions)
	if !st.Liveness.LastResponse.IsZero() {
		fmt.Fprintf(c.out, "Last inbound:  %s (missed pings %d)\n",
			st.Liveness.LastResponse.Format("15:04:05"), st.Liveness.MissedPings)
	}

	if c.deps.Lights == nil {
		return
	}
	snap := c.deps.Lights.Snapshot()
	fmt.Fprintln(c.out, "\nNode:")
	fmt.Fprintf(c.out, "  Mode:        %s\n", orDash(string(snap.Mode)))
	fmt.Fprintf(c.out, "  Temperature: %s\n", formatReading(snap.Temperature, "°C"))
	fmt.Fprintf(c.out, "  Humidity:    %s\n", formatReading(snap.Humidity, "%"))
	fmt.Fprintf(c.out, "  Distance:    %s\n", formatReading(snap.Distance, "cm"))
	fmt.Fprintf(c.out, "  Light:       %s\n", formatReading(snap.Light, "lx"))
	if snap.HumanPresent != nil {
		fmt.Fprintf(c.out, "  Presence:    %t\n", *snap.HumanPresent)
	}
	for _, ch := range lighting.Channels() {
		if level, ok := snap.Levels[ch]; ok {
			fmt.Fprintf(c.out, "  %-12s %d\n", string(ch)+":", level)
		}
	}
	if snap.Time != "" {
		fmt.Fprintf(c.out, "  Device time: %s\n", snap.Time)
	}
}

func (c *Console) cmdPublish(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: pub <topic> <payload> [qos] [retain]")
		fmt.Fprintln(c.out, `  Example: pub control {"level1":50} 0`)
		return
	}
	topic, payload := args[0], args[1]
	qos, retained := byte(0), false
	var err error
	if len(args) > 2 {
		if qos, err = parseQoS(args[2]); err != nil {
			fmt.Fprintf(c.out, "Invalid qos: %v\n", err)
			return
		}
	}
	if len(args) > 3 {
		if retained, err = strconv.ParseBool(args[3]); err != nil {
			fmt.Fprintf(c.out, "Invalid retain flag: %s\n", args[3])
			return
		}
	}
	if err := c.deps.Client.Publish(topic, []byte(payload), qos, retained); err != nil {
		fmt.Fprintf(c.out, "Publish failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdSubscribe(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: sub <topic> [qos]")
		return
	}
	qos := byte(1)
	if len(args) > 1 {
		var err error
		if qos, err = parseQoS(args[1]); err != nil {
			fmt.Fprintf(c.out, "Invalid qos: %v\n", err)
			return
		}
	}
	if err := c.deps.Client.Subscribe(args[0], qos); err != nil {
		fmt.Fprintf(c.out, "Subscribe failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdUnsubscribe(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: unsub <topic>")
		return
	}
	if err := c.deps.Client.Unsubscribe(args[0]); err != nil {
		fmt.Fprintf(c.out, "Unsubscribe failed: %v\n", err)
		return
	}
	fmt.Fprintln(c.out, "OK")
}

func (c *Console) cmdLight(args []string) {
	if c.deps.Lights == nil {
		fmt.Fprintln(c.out, "Lighting controller not available")
		return
	}
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: light <cold|warm|red|blue> <0-100>")
		return
	}
	ch, err := lighting.ParseChannel(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	level, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid level: %s\n", args[1])
		return
	}
	if err := c.deps.Lights.SetLevel(ch, level); err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "%s set to %d\n", ch, level)
}

func (c *Console) cmdJournal(ctx context.Context, args []string) {
	if c.deps.Journal == nil {
		fmt.Fprintln(c.out, "Journal not enabled")
		return
	}
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			fmt.Fprintf(c.out, "Invalid count: %s\n", args[0])
			return
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	entries, err := c.deps.Journal.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if len(entries) == 0 {
		fmt.Fprintln(c.out, "Journal is empty")
		return
	}
	// Oldest first reads naturally on a terminal.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(c.out, "%s %-18s %-14s %s\n",
			e.CreatedAt.Local().Format("15:04:05.000"), e.Kind, orDash(e.Topic), e.Detail)
	}
}

func (c *Console) cmdDiscover(ctx context.Context) {
	if c.deps.Discoverer == nil {
		fmt.Fprintln(c.out, "Discovery not available")
		return
	}
	fmt.Fprintln(c.out, "Browsing...")
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	brokers, err := c.deps.Discoverer.Discover(ctx)
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "\nBrokers (%d):\n", len(brokers))
	for _, b := range brokers {
		fmt.Fprintf(c.out, "  %-30s %s\n", b.Instance, b.Address())
	}
}

// OnConnected prints the event. Console implements mqtt.Handler.
func (c *Console) OnConnected() {
	fmt.Fprintln(c.out, "* connected")
}

func (c *Console) OnConnectionFailed(reason error) {
	fmt.Fprintf(c.out, "* connection lost: %v\n", reason)
}

func (c *Console) OnMessageReceived(topic string, payload []byte) {
	text := string(payload)
	if len(text) > maxPrintedPayload {
		text = text[:maxPrintedPayload] + "..."
	}
	fmt.Fprintf(c.out, "< %s %s\n", topic, text)
}

func parseQoS(s string) (byte, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 2 {
		return 0, fmt.Errorf("%q is not 0, 1 or 2", s)
	}
	return byte(n), nil
}

func formatReading(v *float64, unit string) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64) + " " + unit
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
