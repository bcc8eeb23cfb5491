// Package interactive provides the operator console for agribus-sim.
package interactive

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/agribus-protocol/agribus-go/pkg/bus"
	"github.com/agribus-protocol/agribus-go/pkg/engine"
	"github.com/agribus-protocol/agribus-go/pkg/wire"
)

// Console handles the interactive operator loop.
type Console struct {
	bus    *bus.Bus
	engine *engine.Engine
	rl     *readline.Instance
}

// New creates a console bound to a running bus and engine.
func New(b *bus.Bus, e *engine.Engine) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "agribus> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{bus: b, engine: e, rl: rl}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
// Use this for log output to avoid interfering with input.
func (c *Console) Stdout() io.Writer {
	return c.rl.Stdout()
}

// Run starts the interactive command loop. It returns when the context
// ends or the operator quits; quitting calls cancel.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc) {
	defer c.rl.Close()

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		parts := strings.Fields(input)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "help", "?":
			c.printHelp()

		case "devices", "ls":
			c.cmdDevices()

		case "tasks":
			c.cmdTasks()

		case "defs":
			c.cmdDefinitions()

		case "start":
			c.cmdStart(args)

		case "pause":
			c.cmdTaskOp(args, c.engine.PauseTask)

		case "resume":
			c.cmdTaskOp(args, c.engine.ResumeTask)

		case "end":
			c.cmdTaskOp(args, c.engine.EndTask)

		case "abort":
			c.cmdTaskOp(args, c.engine.AbortTask)

		case "set":
			c.cmdSet(args)

		case "get":
			c.cmdGet(args)

		case "watch":
			c.cmdWatch(args)

		case "unwatch":
			c.cmdUnwatch(args)

		case "stats":
			c.cmdStats()

		case "quit", "exit", "q":
			fmt.Fprintln(c.rl.Stdout(), "Exiting...")
			cancel()
			return

		default:
			fmt.Fprintf(c.rl.Stdout(), "Unknown command: %s (type 'help' for commands)\n", cmd)
		}
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.rl.Stdout(), `
Agribus Simulator Commands:
  devices                      - List known devices
  tasks                        - List tasks
  defs                         - List parameter definitions
  start <addr> [id=value ...]  - Start a task on an implement
  pause <task>                 - Pause a running task
  resume <task>                - Resume a suspended task
  end <task>                   - Complete a task
  abort <task>                 - Abort a task
  set <task> <id> <value>      - Set a parameter on a task
  get <task> <id>              - Request a parameter from the implement
  watch <screen>               - Print routed terminal messages for a screen
  unwatch <screen>             - Stop watching a screen
  stats                        - Show bus statistics
  quit                         - Exit the simulator`)
}

func (c *Console) cmdDevices() {
	devices := c.engine.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No devices known yet")
		return
	}
	for _, d := range devices {
		fmt.Fprintf(c.rl.Stdout(), "  0x%02X  %-16s %-12s caps=0x%04X last seen %s ago\n",
			d.Addr, d.Role, d.State, d.Capabilities,
			time.Since(d.LastSeen).Round(time.Millisecond))
	}
}

func (c *Console) cmdTasks() {
	tasks := c.engine.Tasks()
	if len(tasks) == 0 {
		fmt.Fprintln(c.rl.Stdout(), "No tasks")
		return
	}
	for _, t := range tasks {
		fmt.Fprintf(c.rl.Stdout(), "  task %d  implement 0x%02X  %s\n", t.ID, t.Implement, t.State)
		ids := make([]uint16, 0, len(t.Params))
		for id := range t.Params {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			fmt.Fprintf(c.rl.Stdout(), "    0x%04X = %v\n", id, t.Params[id])
		}
	}
}

func (c *Console) cmdDefinitions() {
	for _, d := range c.engine.Definitions() {
		fmt.Fprintf(c.rl.Stdout(), "  0x%04X  %-20s [%v, %v] %s\n", d.ID, d.Name, d.Min, d.Max, d.Unit)
	}
}

func (c *Console) cmdStart(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: start <addr> [id=value ...]")
		return
	}
	addr, err := parseAddr(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	initial := make(map[uint16]float64)
	for _, kv := range args[1:] {
		id, value, err := parseAssignment(kv)
		if err != nil {
			fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
			return
		}
		initial[id] = value
	}

	taskID, err := c.engine.StartTask(addr, initial)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Task %d requested on 0x%02X\n", taskID, addr)
}

func (c *Console) cmdTaskOp(args []string, op func(uint8) error) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: <command> <task>")
		return
	}
	taskID, err := parseTaskID(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	if err := op(taskID); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	if t, ok := c.engine.Task(taskID); ok {
		fmt.Fprintf(c.rl.Stdout(), "Task %d is now %s\n", taskID, t.State)
	}
}

func (c *Console) cmdSet(args []string) {
	if len(args) != 3 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: set <task> <id> <value>")
		return
	}
	taskID, err := parseTaskID(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	defID, err := parseDefID(args[1])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	value, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: invalid value %q\n", args[2])
		return
	}

	if err := c.engine.SetParameter(taskID, defID, value); err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Set requested; confirmed on acknowledgment\n")
}

func (c *Console) cmdGet(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: get <task> <id>")
		return
	}
	taskID, err := parseTaskID(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	defID, err := parseDefID(args[1])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	value, err := c.engine.RequestParameter(ctx, taskID, defID)
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "0x%04X = %v\n", defID, value)
}

func (c *Console) cmdWatch(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: watch <screen>")
		return
	}
	screen, err := parseDefID(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}

	out := c.rl.Stdout()
	err = c.engine.RegisterScreenHandler(screen, func(m wire.Message) {
		fmt.Fprintf(out, "[screen 0x%04X] from 0x%02X command=%d arg=%d\n",
			m.ScreenID, m.Source, m.Command, m.Arg)
	})
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	fmt.Fprintf(c.rl.Stdout(), "Watching screen 0x%04X\n", screen)
}

func (c *Console) cmdUnwatch(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.rl.Stdout(), "Usage: unwatch <screen>")
		return
	}
	screen, err := parseDefID(args[0])
	if err != nil {
		fmt.Fprintf(c.rl.Stdout(), "Error: %v\n", err)
		return
	}
	c.engine.UnregisterScreenHandler(screen)
	fmt.Fprintf(c.rl.Stdout(), "Stopped watching screen 0x%04X\n", screen)
}

func (c *Console) cmdStats() {
	s := c.bus.Statistics()
	fmt.Fprintf(c.rl.Stdout(), "Bus %s  %s  load %.1f%%\n",
		shortID(s.BusID), s.Bitrate, s.Load*100)
	fmt.Fprintf(c.rl.Stdout(), "  transmitted %d, delivered %d, dropped %d\n",
		s.Transmitted, s.Delivered, s.Dropped)

	addrs := make([]uint8, 0, len(s.Nodes))
	for addr := range s.Nodes {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
	for _, addr := range addrs {
		ns := s.Nodes[addr]
		fmt.Fprintf(c.rl.Stdout(), "  0x%02X  tx=%d rx=%d dropped=%d pending=%d/%d\n",
			addr, ns.Transmitted, ns.Received, ns.Dropped, ns.PendingTx, ns.PendingRx)
	}
}

func shortID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func parseAddr(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return uint8(v), nil
}

func parseTaskID(s string) (uint8, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return uint8(v), nil
}

func parseDefID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid definition id %q", s)
	}
	return uint16(v), nil
}

// parseAssignment parses an "id=value" pair from the start command.
func parseAssignment(s string) (uint16, float64, error) {
	id, valueStr, ok := strings.Cut(s, "=")
	if !ok {
		return 0, 0, fmt.Errorf("invalid assignment %q (want id=value)", s)
	}
	defID, err := parseDefID(id)
	if err != nil {
		return 0, 0, err
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid value %q", valueStr)
	}
	return defID, value, nil
}
