package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/mescon/InfinityStatus/internal/activity"
	"github.com/mescon/InfinityStatus/internal/client"
	"github.com/mescon/InfinityStatus/internal/domain"
)

const requestTimeout = 10 * time.Second

var errUsage = errors.New("usage")

// Console is the interactive command loop.
type Console struct {
	client *client.Client
	rl     *readline.Instance
	out    io.Writer
}

// NewConsole creates a console bound to c.
func NewConsole(c *client.Client) (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "timers> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("list"),
			readline.PcItem("show"),
			readline.PcItem("start"),
			readline.PcItem("stop"),
			readline.PcItem("reset"),
			readline.PcItem("restart"),
			readline.PcItem("duration"),
			readline.PcItem("sync"),
			readline.PcItem("counter"),
			readline.PcItem("inc"),
			readline.PcItem("dec"),
			readline.PcItem("log"),
			readline.PcItem("health"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{client: c, rl: rl, out: rl.Stdout()}, nil
}

// Run reads commands until quit or EOF.
func (c *Console) Run() {
	defer c.rl.Close()

	fmt.Fprintf(c.out, "Connected to %s\n", c.client.BaseURL())
	c.printHelp()

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if quit := c.Execute(input); quit {
			fmt.Fprintln(c.out, "Exiting...")
			return
		}
	}
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(input string) bool {
	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var err error
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "list", "ls":
		err = c.cmdList(ctx)
	case "show", "s":
		err = c.cmdShow(ctx, args)
	case client.ActionStart, client.ActionStop, client.ActionReset, client.ActionRestart:
		err = c.cmdAction(ctx, cmd, args)
	case "duration", "d":
		err = c.cmdDuration(ctx, args)
	case "sync":
		err = c.cmdSync(ctx)
	case "counter", "c":
		err = c.cmdCounter(ctx)
	case "inc", "+":
		err = c.printSnapshot(c.client.Increment(ctx))
	case "dec", "-":
		err = c.printSnapshot(c.client.Decrement(ctx))
	case "log":
		err = c.cmdLog(ctx, args)
	case "health":
		err = c.cmdHealth(ctx)
	case "quit", "exit", "q":
		return true
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}

	if errors.Is(err, errUsage) {
		fmt.Fprintln(c.out, err.Error())
	} else if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Timer Commands:
  list                  - Show every timer
  show <id>             - Show one timer
  start|stop <id>       - Resume or pause a timer
  reset <id>            - Clear cycles and restart the current cycle
  restart <id>          - Reset and run
  duration <id> <M:SS>  - Set the cycle length (timer is paused)
  sync                  - Restart every timer at the same instant

Activity Commands:
  counter               - Show the counter and log
  inc | dec             - Change the counter by one
  log <message>         - Append to the activity log

  health                - Server health
  quit                  - Exit`)
}

func (c *Console) cmdList(ctx context.Context) error {
	views, mode, err := c.client.Timers(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Sync: %s\n", mode)
	for _, v := range views {
		c.printView(v)
	}
	return nil
}

func (c *Console) cmdShow(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: show <id>", errUsage)
	}
	v, err := c.client.Timer(ctx, args[0])
	if err != nil {
		return err
	}
	c.printView(v)
	return nil
}

func (c *Console) cmdAction(ctx context.Context, action string, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: %s <id>", errUsage, action)
	}
	v, err := c.client.Action(ctx, args[0], action)
	if err != nil {
		return err
	}
	c.printView(v)
	return nil
}

func (c *Console) cmdDuration(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: duration <id> <M:SS | seconds>", errUsage)
	}
	minutes, seconds, err := parseDuration(args[1])
	if err != nil {
		return err
	}
	v, err := c.client.SetDuration(ctx, args[0], minutes, seconds)
	if err != nil {
		return err
	}
	c.printView(v)
	return nil
}

func (c *Console) cmdSync(ctx context.Context) error {
	views, err := c.client.Synchronize(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Synchronized %d timers\n", len(views))
	for _, v := range views {
		c.printView(v)
	}
	return nil
}

func (c *Console) cmdCounter(ctx context.Context) error {
	return c.printSnapshot(c.client.Activity(ctx))
}

func (c *Console) cmdLog(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: log <message>", errUsage)
	}
	return c.printSnapshot(c.client.Log(ctx, strings.Join(args, " ")))
}

func (c *Console) cmdHealth(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return err
	}
	for _, key := range []string{"status", "version", "uptime", "sync_mode"} {
		if v, ok := health[key]; ok {
			fmt.Fprintf(c.out, "  %-10s %v\n", key+":", v)
		}
	}
	return nil
}

func (c *Console) printView(v domain.TimerView) {
	state := "paused"
	if v.Running {
		state = "running"
	}
	name := v.Name
	if name == "" {
		name = v.ID
	}
	fmt.Fprintf(c.out, "  %-10s %-16s %6s  %-7s cycles=%d\n", v.ID, name, v.Display, state, v.Cycles)
}

func (c *Console) printSnapshot(snap activity.Snapshot, err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Counter: %d\n", snap.Count)
	for _, e := range snap.Entries {
		fmt.Fprintf(c.out, "  %s\n", e.String())
	}
	return nil
}

// parseDuration accepts "M:SS" or a plain number of seconds.
func parseDuration(s string) (minutes, seconds int, err error) {
	if m, sec, ok := strings.Cut(s, ":"); ok {
		minutes, err = strconv.Atoi(m)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid minutes %q", m)
		}
		seconds, err = strconv.Atoi(sec)
		if err != nil || len(sec) != 2 || seconds > 59 {
			return 0, 0, fmt.Errorf("invalid seconds %q", sec)
		}
	} else {
		seconds, err = strconv.Atoi(s)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid duration %q", s)
		}
	}
	if _, err := domain.DurationFromParts(minutes, seconds); err != nil {
		return 0, 0, err
	}
	return minutes, seconds, nil
}
