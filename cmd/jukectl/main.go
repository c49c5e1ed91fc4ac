// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/fatih/color"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/jukebot/internal/api/connect"
)

var (
	app     = kingpin.New("jukectl", "jukebot admin client")
	server  = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token   = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()
	timeout = app.Flag("timeout", "Request timeout").Default("10s").Duration()

	statusCmd = app.Command("status", "Show the queue and playback state")

	enqueueCmd  = app.Command("enqueue", "Add a reference to the queue").Alias("play")
	enqueueRef  = enqueueCmd.Arg("ref", "URL or search text").Required().String()
	enqueueName = enqueueCmd.Flag("as", "Requester name shown in the queue").String()

	skipCmd  = app.Command("skip", "Skip the current entry")
	stopCmd  = app.Command("stop", "Clear the queue and stop playback")
	leaveCmd = app.Command("leave", "Stop playback and leave the voice channel")
	watchCmd = app.Command("watch", "Stream playback events")
)

var (
	headerColor = color.New(color.FgHiCyan, color.Bold)
	okColor     = color.New(color.FgHiGreen)
	failColor   = color.New(color.FgHiRed)
	dimColor    = color.New(color.FgHiBlack)
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fatalf("admin token is required (use --token or ADMIN_TOKEN env)")
	}

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)

	if command == watchCmd.FullCommand() {
		watch(client)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch command {
	case statusCmd.FullCommand():
		status(ctx, client)
	case enqueueCmd.FullCommand():
		enqueue(ctx, client, *enqueueRef, *enqueueName)
	case skipCmd.FullCommand():
		skip(ctx, client)
	case stopCmd.FullCommand():
		stop(ctx, client)
	case leaveCmd.FullCommand():
		leave(ctx, client)
	}
}

func fatalf(format string, args ...any) {
	failColor.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func status(ctx context.Context, client *apiconnect.Client) {
	s, err := client.GetStatus(ctx)
	if err != nil {
		fatalf("%v", err)
	}

	headerColor.Println("=== STATUS ===")
	fmt.Printf("State:       %s\n", s.State)
	fmt.Printf("Connected:   %v\n", s.Connected)
	fmt.Printf("Assets:      %d in use\n", s.AssetsInUse)
	fmt.Printf("Requesters:  %d\n", s.Requesters)
	fmt.Printf("Subscribers: %d\n", s.Subscribers)
	if s.IdleForSec > 0 {
		fmt.Printf("Idle for:    %s\n", time.Duration(s.IdleForSec*float64(time.Second)).Round(time.Second))
	}

	fmt.Println()
	if s.Current != nil {
		headerColor.Println("Now playing:")
		printEntry("  ", s.Current)
	} else {
		dimColor.Println("Nothing playing")
	}

	if len(s.Queue) > 0 {
		fmt.Println()
		headerColor.Printf("Queue (%d):\n", len(s.Queue))
		for i := range s.Queue {
			printEntry(fmt.Sprintf("  %2d. ", i+1), &s.Queue[i])
		}
	}

	if len(s.History) > 0 {
		fmt.Println()
		headerColor.Println("Recently played:")
		for i := range s.History {
			printEntry("  - ", &s.History[i])
		}
	}
}

func printEntry(prefix string, e *apiconnect.Entry) {
	fmt.Printf("%s%s ", prefix, e.Ref)
	dimColor.Printf("(#%d, %s %s, %s)\n", e.Seq, e.RequesterType, e.RequesterName, e.EnqueuedAt.Local().Format(time.TimeOnly))
}

func enqueue(ctx context.Context, client *apiconnect.Client, ref, name string) {
	res, err := client.Enqueue(ctx, ref, name)
	if err != nil {
		fatalf("%v", err)
	}
	if !res.Success {
		failColor.Printf("Rejected (%s): %s\n", res.Code, res.Message)
		os.Exit(1)
	}
	okColor.Printf("%s at position %d\n", res.Message, res.Position)
}

func skip(ctx context.Context, client *apiconnect.Client) {
	res, err := client.Skip(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	if res.Success {
		okColor.Println(res.Message)
	} else {
		failColor.Println(res.Message)
	}
}

func stop(ctx context.Context, client *apiconnect.Client) {
	res, err := client.Stop(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	printStopped(res.WasActive, res.Cleared, res.Released)
}

func leave(ctx context.Context, client *apiconnect.Client) {
	res, err := client.Leave(ctx)
	if err != nil {
		fatalf("%v", err)
	}
	printStopped(res.WasActive, res.Cleared, res.Released)
	okColor.Println("Left the voice channel")
}

func printStopped(wasActive bool, cleared, released int) {
	if wasActive {
		okColor.Println("Playback stopped")
	} else {
		dimColor.Println("Nothing was playing")
	}
	fmt.Printf("Cleared %d queued entries, released %d assets\n", cleared, released)
}

func watch(client *apiconnect.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Watching events. Press Ctrl+C to exit.")
	err := client.WatchEvents(ctx, func(n *apiconnect.Notification) error {
		printNotification(n)
		return nil
	})
	if err != nil {
		fatalf("stream: %v", err)
	}
}

func printNotification(n *apiconnect.Notification) {
	dimColor.Printf("[%s #%d] ", n.At.Local().Format(time.TimeOnly), n.SequenceNo)

	switch n.Type {
	case apiconnect.NotificationTypeInitialState:
		headerColor.Printf("initial state: %s", n.State)
		if n.Status != nil {
			fmt.Printf(" (queue=%d connected=%v)", len(n.Status.Queue), n.Status.Connected)
		}
	case "failed", "all_failed", "sink_unavailable":
		failColor.Printf("%s", n.Type)
	default:
		okColor.Printf("%s", n.Type)
	}

	if n.Entry != nil {
		fmt.Printf(" %s", n.Entry.Ref)
	}
	if n.Position > 0 {
		fmt.Printf(" position=%d", n.Position)
	}
	if n.Count > 0 {
		fmt.Printf(" count=%d", n.Count)
	}
	if n.Error != "" {
		failColor.Printf(" error=%s", n.Error)
	}
	fmt.Println()
}
