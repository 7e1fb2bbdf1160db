package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

const heartbeatEvery = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Printf("ws_chat: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "", "user id to identify as")
	channel := flag.String("channel", "", "channel id to chat in")
	flag.Parse()

	if *user == "" || *channel == "" {
		return errors.New("-user and -channel are required")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, conn, proto.TypeIdentify, proto.IdentifyPayload{UserID: *user}); err != nil {
		return err
	}

	fmt.Printf("Connected to %s as %s in channel %s\n", *addr, *user, *channel)
	fmt.Println("Type messages and press Enter to send. Ctrl+C to exit.")

	go func() {
		defer cancel()
		readLoop(ctx, conn)
	}()
	go heartbeat(ctx, conn)

	writeLoop(ctx, conn, *channel)

	stop()
	cancel()
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	return nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, payload any) error {
	in, err := proto.NewInbound(typ, payload)
	if err != nil {
		return err
	}
	if err := wsjson.Write(ctx, conn, in); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

func heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := send(ctx, conn, proto.TypeHeartbeat, nil); err != nil {
				return
			}
		}
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame proto.Received
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			// Treat expected shutdowns quietly.
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			case websocket.StatusPolicyViolation:
				log.Printf("disconnected by server")
				return
			}
			log.Printf("read error: %v", err)
			return
		}

		switch frame.Type {
		case proto.TypeNewMessage:
			var msg proto.NewMessagePayload
			if err := json.Unmarshal(frame.Payload, &msg); err != nil {
				log.Printf("unmarshal message: %v", err)
				continue
			}
			fmt.Printf("[%s] %s: %s\n", msg.ChannelID, msg.User.Name, msg.Content)
		case proto.TypeSuccess:
			fmt.Printf("* %s\n", frame.Message)
		case proto.TypeError:
			fmt.Printf("! %s (%s)\n", frame.Message, frame.Code)
		case proto.TypeAlive:
		default:
			fmt.Printf("type=%s payload=%s\n", frame.Type, string(frame.Payload))
		}
	}
}

func writeLoop(ctx context.Context, conn *websocket.Conn, channel string) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}

			if err := send(ctx, conn, proto.TypeSendMessage, proto.SendMessagePayload{ChannelID: channel, Content: text}); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}
