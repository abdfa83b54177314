// File: cmd/client/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/iyunix/internist-hub/internal/auth"
	"github.com/iyunix/internist-hub/internal/config"
	"github.com/iyunix/internist-hub/internal/hubclient"
	"github.com/iyunix/internist-hub/internal/realtime"
	"github.com/iyunix/internist-hub/internal/services"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "hub websocket URL")
	token := flag.String("token", "", "JWT; minted from JWT_SECRET_KEY when empty")
	user := flag.String("user", "", "user ID to mint a token for")
	chatID := flag.String("chat", "", "chat to join on connect")
	flag.Parse()

	if *token == "" {
		if *user == "" {
			log.Fatal("either -token or -user is required")
		}
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("configuration: %v", err)
		}
		*token, err = auth.GenerateJWT(*user, []byte(cfg.JWTSecret()), 24*time.Hour)
		if err != nil {
			log.Fatalf("mint token: %v", err)
		}
	}

	client, err := hubclient.New(hubclient.Config{
		URL:     *url,
		Token:   *token,
		ChatID:  *chatID,
		OnFrame: printFrame,
		Logger:  services.NewLogger("hubclient"),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go readInput(ctx, client, stop)

	if err := client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("disconnected: %v", err)
	}
}

const help = `commands:
  /join <chat>   switch chat
  /leave         leave the current chat
  /typing        send typing_start
  /idle          send typing_end
  /read <msg>    mark a message read
  /pending       list unconfirmed messages
  /quit          exit
anything else is sent as a message`

func readInput(ctx context.Context, client *hubclient.Client, quit func()) {
	fmt.Println(help)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		var err error
		switch cmd {
		case "/join":
			err = client.Join(strings.TrimSpace(arg))
		case "/leave":
			err = client.Leave()
		case "/typing":
			err = client.StartTyping()
		case "/idle":
			err = client.EndTyping()
		case "/read":
			err = client.MarkRead(strings.TrimSpace(arg))
		case "/pending":
			for _, p := range client.Pending() {
				fmt.Printf("  %s %q (queued %s)\n", p.ClientMessageID, p.Content, p.QueuedAt.Format(time.Kitchen))
			}
		case "/quit":
			quit()
			return
		default:
			_, err = client.SendMessage(line)
		}
		if err != nil {
			fmt.Printf("! %v\n", err)
		}
	}
	quit()
}

func printFrame(f realtime.Frame) {
	switch f.Type {
	case realtime.TypeNewMessage:
		var p realtime.NewMessagePayload
		if realtime.DecodePayload(f.Payload, &p) == nil {
			fmt.Printf("[%s] %s: %s\n", p.Message.CreatedAt.Local().Format(time.Kitchen), p.Message.SenderID, p.Message.Content)
			return
		}
	case realtime.TypeAssistantDelta:
		var p realtime.AssistantDeltaPayload
		if realtime.DecodePayload(f.Payload, &p) == nil {
			fmt.Print(p.Delta)
			return
		}
	case realtime.TypeTypingStatus:
		var p realtime.TypingStatusPayload
		if realtime.DecodePayload(f.Payload, &p) == nil {
			if len(p.Users) > 0 {
				fmt.Printf("  (%s typing)\n", strings.Join(p.Users, ", "))
			}
			return
		}
	case realtime.TypeError:
		var p realtime.ErrorPayload
		if realtime.DecodePayload(f.Payload, &p) == nil {
			fmt.Printf("! %s\n", p.Message)
			return
		}
	}
	fmt.Printf("< %s %s\n", f.Type, string(f.Payload))
}
