// relayctl drives the decibel relay from a terminal.
//
//	relayctl produce  create a session and stream synthetic readings
//	relayctl watch    join a session and print what arrives
//	relayctl tap      follow a session's Redis mirror channel
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/aura-webinar/decibel-relay/internal/agent"
	"github.com/aura-webinar/decibel-relay/internal/protocol"
	"github.com/aura-webinar/decibel-relay/internal/realtime"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch args[0] {
	case "produce":
		return runProduce(ctx, args[1:])
	case "watch":
		return runWatch(ctx, args[1:])
	case "tap":
		return runTap(ctx, args[1:])
	}
	printUsage()
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `usage: relayctl <command> [flags]

commands:
  produce   create a session and stream synthetic readings
  watch     join a session as an observer and print its events
  tap       print the frames mirrored to Redis for a session

run "relayctl <command> --help" for the flags of a command`)
}

// parse handles --help the same way for every command. It reports
// done=true when help was printed.
func parse(fs *pflag.FlagSet, args []string) (done bool, err error) {
	fs.BoolP("help", "h", false, "show help")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(fs)
			return true, nil
		}
		return false, err
	}
	if help, _ := fs.GetBool("help"); help {
		printHelp(fs)
		return true, nil
	}
	return false, nil
}

func printHelp(fs *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "usage: relayctl %s [flags]\n\nflags:\n", fs.Name())
	fs.PrintDefaults()
}

func newLogger(verbose bool) *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func runProduce(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("produce", pflag.ContinueOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "relay WebSocket URL")
	interval := fs.Duration("interval", 250*time.Millisecond, "time between readings")
	count := fs.Int("count", 0, "readings to send before disconnecting (0 runs until interrupted)")
	summaryEvery := fs.Int("summary-every", 20, "record a summary after this many readings (0 disables)")
	timer := fs.Int("timer", 0, "run a countdown of this many seconds alongside the readings")
	verbose := fs.BoolP("verbose", "v", false, "log connection details")
	if done, err := parse(fs, args); done || err != nil {
		return err
	}
	if *interval <= 0 {
		return errors.New("--interval must be positive")
	}

	logger := newLogger(*verbose)
	defer logger.Sync()

	a := agent.New(*url, logger)
	id, err := a.Create(ctx)
	if err != nil {
		return err
	}
	fmt.Println(id)
	defer a.Disconnect()

	if err := a.Start(); err != nil {
		return err
	}
	if *timer > 0 {
		stopTimer, _, err := a.StartTimer(ctx, *timer)
		if err != nil {
			return err
		}
		defer stopTimer()
	}

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	phase := 0.0
	for sent := 0; *count == 0 || sent < *count; {
		select {
		case <-ctx.Done():
			return nil
		case <-a.Done():
			return errors.New("connection closed by relay")
		case <-ticker.C:
		}
		phase += 0.15
		value := 55 + 15*math.Sin(phase) + rng.Float64()*6
		err := a.Sample(math.Round(value*10) / 10)
		if errors.Is(err, agent.ErrNotRecording) {
			// the countdown paused the recording
			continue
		}
		if err != nil {
			return err
		}
		sent++
		if *summaryEvery > 0 && sent%*summaryEvery == 0 {
			if _, err := a.RecordSummary(); err != nil && !errors.Is(err, agent.ErrNoReadings) {
				return err
			}
		}
	}
	if _, err := a.RecordSummary(); err != nil && !errors.Is(err, agent.ErrNoReadings) {
		return err
	}
	return nil
}

func runWatch(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	url := fs.String("url", "ws://localhost:8080/ws", "relay WebSocket URL")
	session := fs.String("session", "", "session id to join (required)")
	verbose := fs.BoolP("verbose", "v", false, "log connection details")
	if done, err := parse(fs, args); done || err != nil {
		return err
	}
	if *session == "" {
		return errors.New("--session is required")
	}

	logger := newLogger(*verbose)
	defer logger.Sync()

	a := agent.New(*url, logger)
	a.Subscribe(printEvent)
	if err := a.Join(ctx, *session); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return a.Disconnect()
	case <-a.Done():
		return nil
	}
}

func printEvent(ev agent.Event) {
	switch e := ev.(type) {
	case agent.SessionJoined:
		fmt.Printf("joined %s (active=%t)\n", e.SessionID, e.Active)
	case agent.ReadingReceived:
		fmt.Printf("%s  %6.1f dB  max %6.1f\n", e.Reading.Time.Format("15:04:05.000"), float64(e.Reading.Value), float64(e.Max))
	case agent.SummaryLogged:
		r := e.Record
		fmt.Printf("summary #%d  %.1fs  max %.1f  avg %.1f  min %.1f\n",
			r.SequenceNumber, r.DurationSeconds, float64(r.Max), float64(r.Avg), float64(r.Min))
	case agent.TimerSynced:
		fmt.Printf("timer %ds\n", e.Timer.RemainingSeconds)
	case agent.SessionReset:
		fmt.Println("session reset")
	case agent.ViewLogReset:
		fmt.Println("summary log cleared")
	case agent.ServerError:
		fmt.Printf("error: %s\n", e.Message)
	case agent.SessionEnded:
		fmt.Printf("ended: %s\n", e.Reason)
	}
}

func runTap(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("tap", pflag.ContinueOnError)
	addr := fs.String("redis-addr", "localhost:6379", "Redis address")
	password := fs.String("redis-password", "", "Redis password")
	db := fs.Int("redis-db", 0, "Redis database")
	session := fs.String("session", "", "session id to follow (required)")
	if done, err := parse(fs, args); done || err != nil {
		return err
	}
	if *session == "" {
		return errors.New("--session is required")
	}

	client := redis.NewClient(&redis.Options{Addr: *addr, Password: *password, DB: *db})
	defer client.Close()

	cancel, err := realtime.SubscribeSession(ctx, client, *session, func(raw []byte) {
		f, err := protocol.Decode(raw)
		if err != nil {
			return
		}
		fmt.Printf("%s %s\n", f.Type, raw)
	})
	if err != nil {
		return err
	}
	defer cancel()
	fmt.Fprintf(os.Stderr, "following %s\n", realtime.ChannelName(*session))
	<-ctx.Done()
	return nil
}
