package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/term"

	"github.com/collabcanvas/collab"
)

const CollabCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Collab control.

Connects to a collaboration endpoint and tails the event stream, or
generates cursor traffic for testing the throttle path end to end.
When --jwt is omitted, the token is read from a terminal prompt.

Usage:
    collabctl tail --url=<url> --canvas=<canvas_id> [--jwt=<jwt>]
    collabctl cursor --url=<url> --canvas=<canvas_id> [--jwt=<jwt>]
        [--rate=<hz>] [--duration=<seconds>]

Options:
    -h --help              Show this screen.
    --version              Show version.
    --url=<url>            Collaboration websocket url.
    --canvas=<canvas_id>   Canvas (room) to join.
    --jwt=<jwt>            Your collaboration JWT.
    --rate=<hz>            Cursor updates per second [default: 60].
    --duration=<seconds>   Seconds to run [default: 10].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CollabCtlVersion)
	if err != nil {
		panic(err)
	}

	if tail_, _ := opts.Bool("tail"); tail_ {
		tail(opts)
	} else if cursor_, _ := opts.Bool("cursor"); cursor_ {
		cursor(opts)
	}
}

func newSession(opts docopt.Opts) *collab.Session {
	url, _ := opts.String("--url")
	jwt, _ := opts.String("--jwt")
	if jwt == "" {
		fmt.Fprint(os.Stderr, "token: ")
		tokenBytes, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			Err.Fatalf("could not read token = %s", err)
		}
		jwt = string(tokenBytes)
	}

	session := collab.NewSessionWithDefaults(url, jwt, collab.Identity{}, collab.NewMemoryStore())

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := session.Connect(ctx); err != nil {
		Err.Fatalf("connect failed = %s", err)
	}

	canvasId, _ := opts.String("--canvas")
	if err := session.JoinCanvas(canvasId); err != nil {
		Err.Fatalf("join failed = %s", err)
	}
	return session
}

func tail(opts docopt.Opts) {
	session := newSession(opts)
	defer session.Close()

	unsubscribe := session.Subscribe(func(event *collab.Event) {
		switch event.Type {
		case collab.EventParticipantJoined:
			Out.Printf("%s: %s (%s)", event.Type, event.Username, event.UserId)
		case collab.EventParticipantLeft:
			Out.Printf("%s: %s", event.Type, event.Username)
		case collab.EventParticipantUpdated:
			if event.Participant != nil && event.Participant.Cursor != nil {
				Out.Printf("%s: %s @ (%.0f,%.0f)", event.Type, event.Username, event.Participant.Cursor.X, event.Participant.Cursor.Y)
			} else {
				Out.Printf("%s: %s", event.Type, event.Username)
			}
		case collab.EventWidgetCreated, collab.EventWidgetUpdated, collab.EventWidgetDeleted,
			collab.EventWidgetMoved, collab.EventWidgetResized, collab.EventWidgetStateChanged:
			Out.Printf("%s: %s", event.Type, event.WidgetId)
		default:
			Out.Printf("%s: %s", event.Type, event.Reason)
		}
	})
	defer unsubscribe()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

func cursor(opts docopt.Opts) {
	session := newSession(opts)
	defer session.Close()

	rateStr, _ := opts.String("--rate")
	rate, err := strconv.Atoi(rateStr)
	if err != nil || rate <= 0 {
		Err.Fatalf("bad rate = %s", rateStr)
	}
	durationStr, _ := opts.String("--duration")
	durationSeconds, err := strconv.Atoi(durationStr)
	if err != nil || durationSeconds <= 0 {
		Err.Fatalf("bad duration = %s", durationStr)
	}

	// sweep the cursor around a circle at the requested rate. the session
	// throttle caps what actually reaches the wire
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()
	end := time.Now().Add(time.Duration(durationSeconds) * time.Second)
	i := 0
	for time.Now().Before(end) {
		<-ticker.C
		angle := 2 * math.Pi * float64(i%360) / 360
		session.SendCursor(collab.Position{
			X: 500 + 200*math.Cos(angle),
			Y: 500 + 200*math.Sin(angle),
		})
		i += 1
	}
	Out.Printf("sent %d cursor updates", i)
}
