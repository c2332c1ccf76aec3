// Command client is a headless signaling client for development and demos.
// It connects to the relay, drives the call state machine from stdin and
// prints every state transition.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"Tutorlink/internal/call"
	"Tutorlink/internal/event"
	"Tutorlink/internal/notify"
	"Tutorlink/internal/transport"
)

func main() {
	var (
		relayURL   = flag.String("relay", "ws://localhost:8081/ws", "relay websocket endpoint")
		userID     = flag.String("user", "", "user id (required)")
		name       = flag.String("name", "", "display name, defaults to user id")
		autoAccept = flag.Bool("auto-accept", false, "answer every incoming call")
	)
	flag.Parse()

	if *userID == "" {
		log.Fatal("-user is required")
	}
	if *name == "" {
		*name = *userID
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	conn, err := transport.Dial(*relayURL, *userID, logger)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	alerts := notify.NewLogAlerts(logger)
	coord := call.NewCoordinator(conn, call.NopMedia{}, alerts, *userID, *name, call.Options{}, logger)
	defer coord.Close()

	unsub := coord.Subscribe(func(s call.Snapshot) {
		if *autoAccept && s.Offer != nil {
			go coord.Accept()
		}
		line := fmt.Sprintf("status=%s", s.Status)
		if s.ConversationID != "" {
			line += " conversation=" + s.ConversationID
		}
		if s.Status == call.StatusConnected {
			line += fmt.Sprintf(" elapsed=%ds", s.Elapsed)
		}
		if s.Offer != nil {
			line += fmt.Sprintf(" incoming-from=%s type=%s", s.Offer.CallerName, s.Offer.CallType)
		}
		fmt.Println(line)
	})
	defer unsub()

	fmt.Println("commands: call <conversation> [audio|video], accept, reject [reason], end, mute, quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "call":
			if len(fields) < 2 {
				fmt.Println("usage: call <conversation> [audio|video]")
				continue
			}
			callType := event.CallTypeAudio
			if len(fields) > 2 {
				callType = fields[2]
			}
			if err := coord.Initiate(fields[1], callType); err != nil {
				fmt.Println("error:", err)
			}
		case "accept":
			coord.Accept()
		case "reject":
			reason := ""
			if len(fields) > 1 {
				reason = strings.Join(fields[1:], " ")
			}
			coord.Reject(reason)
		case "end":
			coord.End()
		case "mute":
			fmt.Println("muted:", coord.ToggleMute())
		case "quit":
			return
		default:
			fmt.Println("unknown command:", fields[0])
		}
	}
}
