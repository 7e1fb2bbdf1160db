package core

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/wirerelay/internal/log"
	"github.com/vovakirdan/wirerelay/internal/metrics"
	"github.com/vovakirdan/wirerelay/internal/proto"
	"github.com/vovakirdan/wirerelay/internal/store"
)

// wireFrame is an outbound frame as a client would decode it.
type wireFrame struct {
	Type    string          `json:"type"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

func mustFrame(t *testing.T, conn *Conn, typ string) wireFrame {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case raw := <-conn.Outbound():
			var f wireFrame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("decode outbound frame %q: %v", raw, err)
			}
			if f.Type == typ {
				return f
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected frame type %s not received", typ)
	return wireFrame{}
}

func mustNoFrame(t *testing.T, conn *Conn) {
	t.Helper()

	select {
	case raw := <-conn.Outbound():
		t.Fatalf("unexpected frame on %s: %s", conn.ID, raw)
	case <-time.After(50 * time.Millisecond):
	}
}

// fakeStore is an in-memory oracle and message store.
type fakeStore struct {
	mu        sync.Mutex
	users     map[string]store.Profile
	members   map[string][]string
	messages  []store.Message
	createErr error
	lookupErr error
	seq       int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]store.Profile),
		members: make(map[string][]string),
	}
}

func (f *fakeStore) addUser(id, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = store.Profile{Name: name}
}

func (f *fakeStore) join(channelID string, userIDs ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[channelID] = append(f.members[channelID], userIDs...)
}

func (f *fakeStore) messageCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

func (f *fakeStore) UserExists(_ context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	_, ok := f.users[userID]
	return ok, nil
}

func (f *fakeStore) IsMember(_ context.Context, channelID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	for _, id := range f.members[channelID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, in store.NewMessage) (*store.PostedMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.seq++
	msg := store.Message{
		ID:        "m" + strconv.Itoa(f.seq),
		Content:   in.Content,
		ChannelID: in.ChannelID,
		UserID:    in.UserID,
		CreatedAt: time.Now().UTC(),
	}
	f.messages = append(f.messages, msg)
	return &store.PostedMessage{
		Message:   msg,
		Sender:    f.users[in.UserID],
		MemberIDs: append([]string(nil), f.members[in.ChannelID]...),
	}, nil
}

func (f *fakeStore) ListMessages(context.Context, string, int, *string) ([]*store.MessageWithSender, error) {
	return nil, nil
}

func newTestHub(t *testing.T, st *fakeStore, buffer int) *Hub {
	t.Helper()

	logger := log.Nop()
	return NewHub(HubConfig{SendBuffer: buffer, MaxContentLength: 100}, st, st, logger, metrics.New())
}

func identify(t *testing.T, ctx context.Context, s *Session, userID string) {
	t.Helper()

	s.Handle(ctx, proto.Frame{Kind: proto.KindIdentify, Identify: &proto.IdentifyPayload{UserID: userID}})
	mustFrame(t, s.Conn(), proto.TypeSuccess)
	if s.State() != StateIdentified {
		t.Fatalf("session state = %s, want identified", s.State())
	}
}

func send(ctx context.Context, s *Session, channelID, content string) {
	s.Handle(ctx, proto.Frame{
		Kind: proto.KindSendMessage,
		Send: &proto.SendMessagePayload{ChannelID: channelID, Content: content},
	})
}
