package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	user := flag.String("user", "", "user id to identify as")
	channel := flag.String("channel", "", "channel id to post into")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *user == "" || *channel == "" {
		return fmt.Errorf("-user and -channel are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, *addr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ string, payload any) error {
		in, err := proto.NewInbound(typ, payload)
		if err != nil {
			return err
		}
		if err := wsjson.Write(ctx, conn, in); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	if err := send(proto.TypeIdentify, proto.IdentifyPayload{UserID: *user}); err != nil {
		return err
	}
	if err := send(proto.TypeHeartbeat, nil); err != nil {
		return err
	}
	if err := send(proto.TypeSendMessage, proto.SendMessagePayload{ChannelID: *channel, Content: *text}); err != nil {
		return err
	}

	for {
		var frame proto.Received
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		fmt.Printf("Received: type=%s\n", frame.Type)

		switch frame.Type {
		case proto.TypeError:
			return fmt.Errorf("server error %s: %s", frame.Code, frame.Message)
		case proto.TypeSuccess:
			fmt.Printf("Identified: %s\n", frame.Message)
		case proto.TypeNewMessage:
			var msg proto.NewMessagePayload
			if err := json.Unmarshal(frame.Payload, &msg); err != nil {
				fmt.Printf("Raw payload: %s\n", string(frame.Payload))
				return fmt.Errorf("unmarshal message: %w", err)
			}
			fmt.Printf("NewMessage: channel=%s user=%s text=%q at=%s\n", msg.ChannelID, msg.User.Name, msg.Content, msg.CreatedAt.Format(time.RFC3339))
			return nil
		default:
			// keep looping for the echo
		}
	}
}
