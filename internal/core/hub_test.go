package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/wirerelay/internal/proto"
)

func TestMultiDeviceFanOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	st := newFakeStore()
	st.addUser("u1", "alice")
	st.addUser("u2", "bob")
	st.join("c1", "u1", "u2")
	hub := newTestHub(t, st, 8)

	tab1 := hub.Open("a-tab1")
	tab2 := hub.Open("a-tab2")
	bob := hub.Open("b")
	identify(t, ctx, tab1, "u1")
	identify(t, ctx, tab2, "u1")
	identify(t, ctx, bob, "u2")

	send(ctx, bob, "c1", "hi")

	for _, s := range []*Session{tab1, tab2, bob} {
		f := mustFrame(t, s.Conn(), proto.TypeNewMessage)
		var payload proto.NewMessagePayload
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Content != "hi" || payload.UserID != "u2" || payload.ChannelID != "c1" || payload.User.Name != "bob" {
			t.Fatalf("unexpected payload on %s: %+v", s.Conn().ID, payload)
		}
		// Exactly once per connection.
		mustNoFrame(t, s.Conn())
	}

	if got := st.messageCount(); got != 1 {
		t.Fatalf("message rows = %d, want 1", got)
	}
}

func TestNonMemberSendIsRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	st := newFakeStore()
	st.addUser("u1", "alice")
	st.addUser("u3", "carol")
	st.join("c1", "u1")
	hub := newTestHub(t, st, 8)

	alice := hub.Open("a")
	carol := hub.Open("c")
	identify(t, ctx, alice, "u1")
	identify(t, ctx, carol, "u3")

	send(ctx, carol, "c1", "let me in")

	f := mustFrame(t, carol.Conn(), proto.TypeError)
	if f.Code != ErrCodeNotMember {
		t.Fatalf("error code = %s, want %s", f.Code, ErrCodeNotMember)
	}
	mustNoFrame(t, alice.Conn())
	if got := st.messageCount(); got != 0 {
		t.Fatalf("message rows = %d, want 0", got)
	}
}

func TestSendBeforeIdentifyIsUnauthenticated(t *testing.T) {
	ctx := context.Background()

	st := newFakeStore()
	st.addUser("u1", "alice")
	st.join("c1", "u1")
	hub := newTestHub(t, st, 8)

	s := hub.Open("anon")
	send(ctx, s, "c1", "hi")

	f := mustFrame(t, s.Conn(), proto.TypeError)
	if f.Code != ErrCodeUnauthenticated || f.Message != "Unauthenticated" {
		t.Fatalf("unexpected error frame: %+v", f)
	}
	if s.State() != StateConnecting {
		t.Fatalf("state = %s, want connecting", s.State())
	}
	if st.messageCount() != 0 {
		t.Fatal("no message should be written before identify")
	}
}

func TestIdentifyUnknownUserForcesClose(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t, newFakeStore(), 8)

	s := hub.Open("ghost")
	s.Handle(ctx, proto.Frame{Kind: proto.KindIdentify, Identify: &proto.IdentifyPayload{UserID: "nobody"}})

	f := mustFrame(t, s.Conn(), proto.TypeError)
	if f.Code != ErrCodeInvalidUser || f.Message != "Invalid User ID" {
		t.Fatalf("unexpected error frame: %+v", f)
	}
	select {
	case <-s.Conn().Kicked():
	default:
		t.Fatal("connection should be kicked after invalid identify")
	}
	if s.State() == StateIdentified {
		t.Fatal("session must not become identified")
	}
	if got := hub.Registry().Stats(); got.Users != 0 || got.Connections != 0 {
		t.Fatalf("registry should be empty, got %+v", got)
	}
}

func TestIdentifyEmptyUserForcesClose(t *testing.T) {
	ctx := context.Background()
	hub := newTestHub(t, newFakeStore(), 8)

	s := hub.Open("empty")
	s.Handle(ctx, proto.Frame{Kind: proto.KindIdentify, Identify: &proto.IdentifyPayload{}})

	f := mustFrame(t, s.Conn(), proto.TypeError)
	if f.Message != "User ID is required" {
		t.Fatalf("unexpected error frame: %+v", f)
	}
	select {
	case <-s.Conn().Kicked():
	default:
		t.Fatal("connection should be kicked after empty identify")
	}
}

func TestIdentifyLookupFailureKeepsConnection(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.lookupErr = errors.New("db down")
	hub := newTestHub(t, st, 8)

	s := hub.Open("flaky")
	s.Handle(ctx, proto.Frame{Kind: proto.KindIdentify, Identify: &proto.IdentifyPayload{UserID: "u1"}})

	f := mustFrame(t, s.Conn(), proto.TypeError)
	if f.Code != ErrCodeDatabase {
		t.Fatalf("error code = %s, want %s", f.Code, ErrCodeDatabase)
	}
	select {
	case <-s.Conn().Kicked():
		t.Fatal("transient lookup failure must not close the connection")
	default:
	}
	if s.State() != StateConnecting {
		t.Fatalf("state = %s, want connecting", s.State())
	}
}

func TestReidentify(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.addUser("u1", "alice")
	st.addUser("u2", "bob")
	hub := newTestHub(t, st, 8)

	s := hub.Open("a")
	identify(t, ctx, s, "u1")
	identify(t, ctx, s, "u1")

	if got := hub.Registry().ConnectionsFor("u1"); len(got) != 1 {
		t.Fatalf("re-identify duplicated the connection: %d entries", len(got))
	}

	s.Handle(ctx, proto.Frame{Kind: proto.KindIdentify, Identify: &proto.IdentifyPayload{UserID: "u2"}})
	f := mustFrame(t, s.Conn(), proto.TypeError)
	if f.Code != ErrCodeAlreadyIdentified {
		t.Fatalf("error code = %s, want %s", f.Code, ErrCodeAlreadyIdentified)
	}
	if s.UserID() != "u1" || len(hub.Registry().ConnectionsFor("u2")) != 0 {
		t.Fatal("connection must stay bound to u1")
	}
}

func TestHeartbeatAndUnknownFrames(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.addUser("u1", "alice")
	hub := newTestHub(t, st, 8)

	s := hub.Open("a")
	s.Handle(ctx, proto.Frame{Kind: proto.KindHeartbeat})
	mustFrame(t, s.Conn(), proto.TypeAlive)

	s.Handle(ctx, proto.Frame{Kind: proto.KindUnrecognized, Type: "TYPING"})
	mustNoFrame(t, s.Conn())

	identify(t, ctx, s, "u1")
	s.Handle(ctx, proto.Frame{Kind: proto.KindHeartbeat})
	mustFrame(t, s.Conn(), proto.TypeAlive)
	if s.State() != StateIdentified {
		t.Fatalf("heartbeat changed state to %s", s.State())
	}
}

func TestClosedTabReceivesNothing(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	st := newFakeStore()
	st.addUser("u1", "alice")
	st.addUser("u2", "bob")
	st.join("c1", "u1", "u2")
	hub := newTestHub(t, st, 8)

	tab1 := hub.Open("a-tab1")
	tab2 := hub.Open("a-tab2")
	bob := hub.Open("b")
	identify(t, ctx, tab1, "u1")
	identify(t, ctx, tab2, "u1")
	identify(t, ctx, bob, "u2")

	tab2.Close()
	if got := hub.Registry().ConnectionsFor("u1"); len(got) != 1 || got[0] != tab1.Conn() {
		t.Fatalf("expected only tab1 registered for u1, got %v", got)
	}

	send(ctx, bob, "c1", "still there?")
	mustFrame(t, tab1.Conn(), proto.TypeNewMessage)
	mustFrame(t, bob.Conn(), proto.TypeNewMessage)
	mustNoFrame(t, tab2.Conn())

	// Last connection gone: no entry left.
	tab1.Close()
	if got := hub.Registry().Stats(); got.Users != 1 || got.Connections != 1 {
		t.Fatalf("expected only bob left, got %+v", got)
	}
	if len(hub.Registry().ConnectionsFor("u1")) != 0 {
		t.Fatal("u1 should have no registry entry")
	}
}

func TestCloseRunsOnce(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.addUser("u1", "alice")
	hub := newTestHub(t, st, 8)

	other := hub.Open("a-other")
	s := hub.Open("a")
	identify(t, ctx, other, "u1")
	identify(t, ctx, s, "u1")

	s.Close()
	s.Close()

	if got := hub.Registry().ConnectionsFor("u1"); len(got) != 1 || got[0] != other.Conn() {
		t.Fatalf("second close disturbed the registry: %v", got)
	}
	if s.State() != StateClosed {
		t.Fatalf("state = %s, want closed", s.State())
	}

	// Frames after close are ignored.
	s.Handle(ctx, proto.Frame{Kind: proto.KindHeartbeat})
	mustNoFrame(t, s.Conn())
}

func TestPersistFailureDoesNotBroadcast(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.addUser("u1", "alice")
	st.addUser("u2", "bob")
	st.join("c1", "u1", "u2")
	hub := newTestHub(t, st, 8)

	alice := hub.Open("a")
	bob := hub.Open("b")
	identify(t, ctx, alice, "u1")
	identify(t, ctx, bob, "u2")

	st.mu.Lock()
	st.createErr = errors.New("constraint failed")
	st.mu.Unlock()

	send(ctx, bob, "c1", "hi")

	f := mustFrame(t, bob.Conn(), proto.TypeError)
	if f.Code != ErrCodeDatabase || f.Message != "Database error" {
		t.Fatalf("unexpected error frame: %+v", f)
	}
	mustNoFrame(t, alice.Conn())
}

func TestRejectedSessionIgnoresLaterFrames(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.addUser("u1", "alice")
	st.join("c1", "u1")
	hub := newTestHub(t, st, 8)

	s := hub.Open("ghost")
	s.Handle(ctx, proto.Frame{Kind: proto.KindIdentify, Identify: &proto.IdentifyPayload{UserID: "nobody"}})
	mustFrame(t, s.Conn(), proto.TypeError)
	<-s.Conn().Kicked()

	// Frames that arrive before the transport closes the socket.
	s.Handle(ctx, proto.Frame{Kind: proto.KindIdentify, Identify: &proto.IdentifyPayload{UserID: "u1"}})
	send(ctx, s, "c1", "sneaky")
	s.Handle(ctx, proto.Frame{Kind: proto.KindHeartbeat})

	if s.State() == StateIdentified || s.UserID() != "" {
		t.Fatalf("rejected session became identified as %q", s.UserID())
	}
	if got := hub.Registry().Stats(); got.Users != 0 || got.Connections != 0 {
		t.Fatalf("registry should be empty, got %+v", got)
	}
	if got := st.messageCount(); got != 0 {
		t.Fatalf("message rows = %d, want 0", got)
	}
	mustNoFrame(t, s.Conn())
}

func TestIdentifiedEmptyReidentifyKeepsBinding(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.addUser("u1", "alice")
	hub := newTestHub(t, st, 8)

	s := hub.Open("a")
	identify(t, ctx, s, "u1")

	s.Handle(ctx, proto.Frame{Kind: proto.KindIdentify, Identify: &proto.IdentifyPayload{}})
	f := mustFrame(t, s.Conn(), proto.TypeError)
	if f.Code != ErrCodeBadRequest {
		t.Fatalf("error code = %s, want %s", f.Code, ErrCodeBadRequest)
	}
	select {
	case <-s.Conn().Kicked():
		t.Fatal("identified connection must not be kicked for an empty re-identify")
	default:
	}
	if s.State() != StateIdentified || len(hub.Registry().ConnectionsFor("u1")) != 1 {
		t.Fatal("connection must stay bound to u1")
	}
}

func TestShutdownWaitsForSessions(t *testing.T) {
	ctx := context.Background()
	st := newFakeStore()
	st.addUser("u1", "alice")
	hub := newTestHub(t, st, 8)

	a := hub.Open("a")
	b := hub.Open("b")
	identify(t, ctx, a, "u1")

	// Stand-in for the transport: close the session once its conn is closed.
	for _, s := range []*Session{a, b} {
		go func(s *Session) {
			<-s.Conn().Done()
			time.Sleep(20 * time.Millisecond)
			s.Close()
		}(s)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := hub.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if a.State() != StateClosed || b.State() != StateClosed {
		t.Fatal("shutdown returned before every session closed")
	}
	if got := hub.Registry().Stats(); got.Connections != 0 {
		t.Fatalf("registry should be empty, got %+v", got)
	}

	late := hub.Open("late")
	if !late.Conn().Closed() {
		t.Fatal("sessions opened after shutdown must start closed")
	}
	late.Close()
}

func TestShutdownHonoursContext(t *testing.T) {
	hub := newTestHub(t, newFakeStore(), 8)
	s := hub.Open("stuck")
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := hub.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("shutdown error = %v, want deadline exceeded", err)
	}
	if !s.Conn().Closed() {
		t.Fatal("shutdown should close open connections")
	}
}
