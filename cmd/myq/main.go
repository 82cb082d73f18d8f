package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"myq"
)

var engineLog *log.Logger

const defaultWatchInterval = 30 * time.Second

type moduleLogger struct {
	logger *log.Logger
}

func (m *moduleLogger) Log(format string, args ...any) {
	m.logger.Printf("      "+format, args...)
}

func main() {
	command, arg := parseArgs()

	logFile, modLog := setupLogging()
	defer logFile.Close()

	cfg, err := myq.LoadConfig()
	if err != nil {
		engineLog.Fatalf("Failed to load config: %v", err)
	}

	client, err := myq.New(cfg, &moduleLogger{logger: modLog})
	if err != nil {
		engineLog.Fatalf("Failed to create client: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, client, command, arg))
}

func parseArgs() (command, arg string) {
	if len(os.Args) < 2 {
		log.Fatal("Usage: myq <command>\nCommands:\n  login             authenticate and store tokens\n  status            show the garage door state\n  open              open the garage door\n  close             close the garage door\n  devices           list all devices on the account\n  watch [interval]  poll the door state until interrupted")
	}
	command = os.Args[1]
	if len(os.Args) > 2 {
		arg = os.Args[2]
	}
	return command, arg
}

func setupLogging() (logFile *os.File, modLog *log.Logger) {
	logFile, err := os.OpenFile("myq.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	engineLog = log.New(io.MultiWriter(os.Stdout, logFile), "", log.LstdFlags)
	modLog = log.New(io.MultiWriter(os.Stdout, logFile), "", log.LstdFlags)
	return logFile, modLog
}

func run(ctx context.Context, client *myq.Client, command, arg string) int {
	var err error
	switch command {
	case "login":
		err = cmdLogin(ctx, client)
	case "status":
		err = cmdStatus(ctx, client)
	case "open":
		err = cmdDoor(ctx, client, "open")
	case "close":
		err = cmdDoor(ctx, client, "close")
	case "devices":
		err = cmdDevices(ctx, client)
	case "watch":
		err = cmdWatch(ctx, client, arg)
	default:
		engineLog.Printf("Unknown command: %s", command)
		return 1
	}

	if err != nil {
		engineLog.Printf("ERROR: %v", err)
		if myq.IsTerminalLoginError(err) {
			engineLog.Printf("This failure will not resolve by retrying; check credentials or wait out the challenge.")
		}
		return 1
	}
	return 0
}

func cmdLogin(ctx context.Context, client *myq.Client) error {
	if err := client.EnsureValid(ctx); err != nil {
		return err
	}
	ts := client.Tokens()
	engineLog.Printf("Authenticated, access token valid until %s", ts.ExpiresAt.Format(time.RFC3339))
	return nil
}

func cmdStatus(ctx context.Context, client *myq.Client) error {
	state, err := client.GetDoorState(ctx)
	if err != nil {
		return err
	}
	printDoorState(state)
	return nil
}

func cmdDoor(ctx context.Context, client *myq.Client, action string) error {
	var resp *myq.APIResponse
	var err error
	if action == "open" {
		resp, err = client.OpenDoor(ctx)
	} else {
		resp, err = client.CloseDoor(ctx)
	}
	if err != nil {
		return err
	}
	if resp.Accepted() {
		engineLog.Printf("Door %s command accepted, the opener will act shortly", action)
	} else {
		engineLog.Printf("Door %s command returned status %d", action, resp.Status)
	}
	return nil
}

func cmdDevices(ctx context.Context, client *myq.Client) error {
	devices, err := client.Devices(ctx)
	if err != nil {
		return err
	}
	for _, device := range devices {
		online := "offline"
		if device.State.Online {
			online = "online"
		}
		engineLog.Printf("%-20s %-12s %-10s %s", device.Name, device.DeviceFamily, online, device.SerialNumber)
	}
	return nil
}

func cmdWatch(ctx context.Context, client *myq.Client, arg string) error {
	interval := defaultWatchInterval
	if arg != "" {
		parsed, err := time.ParseDuration(arg)
		if err != nil || parsed <= 0 {
			return fmt.Errorf("invalid watch interval %q", arg)
		}
		interval = parsed
	}

	engineLog.Printf("Watching door state every %v (Ctrl-C to stop)...", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		state, err := client.GetDoorState(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			engineLog.Printf("Poll failed: %v", err)
			if myq.IsTerminalLoginError(err) {
				return err
			}
		} else if state.State != last {
			printDoorState(state)
			last = state.State
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func printDoorState(state *myq.DoorState) {
	online := "offline"
	if state.Online {
		online = "online"
	}
	engineLog.Printf("%s (%s): %s [%s]", state.Name, state.SerialNumber, state.State, online)
	if state.LastUpdate != "" {
		engineLog.Printf("  last update: %s", state.LastUpdate)
	}
}
