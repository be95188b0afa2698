package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/parcelchat-server/internal/proto"
)

// frame mirrors proto.Outbound with the payload kept raw.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Ref   string          `json:"ref"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

func run() error {
	base := flag.String("base", "http://localhost:8080", "server base URL")
	email := flag.String("email", "", "login email")
	password := flag.String("password", "", "login password")
	conversation := flag.String("conversation", "", "conversation id to join")
	text := flag.String("text", "hello from smoke test", "message content to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	if *email == "" || *conversation == "" {
		return errors.New("-email and -conversation are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	token, err := login(ctx, *base, *email, *password)
	if err != nil {
		return err
	}

	wsURL := strings.Replace(*base, "http", "ws", 1) + "/ws?token=" + url.QueryEscape(token)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	send := func(typ, ref string, data any) error {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", typ, err)
		}
		if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Ref: ref, Data: payload}); err != nil {
			return fmt.Errorf("send %s: %w", typ, err)
		}
		return nil
	}

	if err := send(proto.InboundTypeJoin, "join", proto.ConversationData{ConversationID: *conversation}); err != nil {
		return err
	}
	if err := send(proto.InboundTypeSend, "send", proto.SendData{ConversationID: *conversation, Content: *text}); err != nil {
		return err
	}

	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		switch f.Type {
		case proto.OutboundTypeError:
			if f.Error == nil {
				return errors.New("protocol error")
			}
			return fmt.Errorf("protocol error: %s %s", f.Error.Code, f.Error.Msg)
		case proto.OutboundTypeEvent:
			fmt.Printf("event %s: %s\n", f.Event, f.Data)
		case proto.OutboundTypeAck:
			var status proto.ErrorAck
			if err := json.Unmarshal(f.Data, &status); err != nil {
				return fmt.Errorf("unmarshal ack: %w", err)
			}
			if status.Status == proto.StatusError {
				return fmt.Errorf("%s rejected: %s %s", f.Ref, status.Code, status.Message)
			}
			fmt.Printf("ack %s: %s\n", f.Ref, f.Data)
			if f.Ref == "send" {
				return nil
			}
		}
	}
}

func login(ctx context.Context, base, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/login", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login: status %d", resp.StatusCode)
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	return out.Token, nil
}
