// Command chat is a terminal client for the relay.
//
// Lines typed on stdin go to the group chat. "/w <user> <text>" sends a
// private message and "/quit" exits.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/HMasataka/chatrelay/internal/logging"
	"github.com/HMasataka/chatrelay/pkg/client"
	"github.com/HMasataka/chatrelay/pkg/domain"
)

func main() {
	var (
		serverAddr = flag.String("server", "ws://localhost:3000/ws", "relay websocket URL")
		user       = flag.String("user", "", "user id to identify as")
		logLevel   = flag.String("log-level", "warn", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	userID := domain.UserID(*user)
	if !userID.Valid() {
		log.Fatal("-user is required")
	}

	logger := logging.New(logging.Config{Level: *logLevel, Format: "pretty"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	opts := client.DefaultOptions()
	opts.Logger = logger
	c, err := client.Dial(dialCtx, *serverAddr, opts)
	cancel()
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()

	if err := c.Identify(userID); err != nil {
		log.Fatalf("identify: %v", err)
	}

	go printEvents(c, userID)

	lines := make(chan string)
	go readLines(lines)

	fmt.Printf("connected as %s. /w <user> <text> whispers, /quit exits\n", userID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			fmt.Println("connection closed")
			return
		case line, ok := <-lines:
			if !ok || line == "/quit" {
				return
			}
			if err := handleLine(c, line); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}
	}
}

func handleLine(c *client.Client, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if rest, ok := strings.CutPrefix(line, "/w "); ok {
		to, text, found := strings.Cut(strings.TrimSpace(rest), " ")
		if !found || strings.TrimSpace(text) == "" {
			return fmt.Errorf("usage: /w <user> <text>")
		}
		return c.SendPrivate(domain.UserID(to), text)
	}

	return c.Send(line)
}

func readLines(out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

func printEvents(c *client.Client, self domain.UserID) {
	for event := range c.Events() {
		switch ev := event.(type) {
		case domain.PresenceUpdate:
			fmt.Printf("* online: %s\n", joinIDs(ev.UserIDs))
		case domain.MessageReceived:
			msg := ev.Message
			stamp := msg.CreatedAt.Local().Format("15:04")
			switch {
			case msg.IsGroup():
				fmt.Printf("[%s] %s: %s\n", stamp, msg.SenderID, msg.Content)
			case msg.SenderID == self:
				fmt.Printf("[%s] -> %s: %s\n", stamp, msg.ReceiverID, msg.Content)
			default:
				fmt.Printf("[%s] %s (private): %s\n", stamp, msg.SenderID, msg.Content)
			}
		case domain.UserTyping:
			fmt.Printf("* %s is typing...\n", ev.From)
		case domain.UserStopTyping:
		case domain.ForceLogout:
			fmt.Printf("* logged out: %s\n", ev.Reason)
		case domain.UserRemoved:
			fmt.Printf("* %s was removed\n", ev.UserID)
		case domain.ErrorNotice:
			fmt.Printf("! %s: %s\n", ev.Code, ev.Message)
		}
	}
}

func joinIDs(ids []domain.UserID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ", ")
}
