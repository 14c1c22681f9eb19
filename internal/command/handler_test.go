package command

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"bridgebot/internal/domain"
	"bridgebot/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func testHandler(t *testing.T, auth bool) (*Handler, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "bridge.db"), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	h := NewHandler(Config{Store: s, AuthEnabled: auth, Password: "hunter2", Logger: testLogger()})
	return h, s
}

var (
	tgChat = domain.Conversation{Key: domain.Key{Provider: domain.ProviderTelegram, ID: "-100"}, Title: "Friends"}
	vkChat = domain.Conversation{Key: domain.Key{Provider: domain.ProviderVK, ID: "2000000001"}, Title: "Друзья"}
	alice  = &domain.Person{Key: domain.Key{Provider: domain.ProviderTelegram, ID: "1"}, DisplayName: "Alice"}
	bob    = &domain.Person{Key: domain.Key{Provider: domain.ProviderVK, ID: "2"}, DisplayName: "Bob"}
)

func say(h *Handler, conv domain.Conversation, who *domain.Person, text string) []Reply {
	replies, _ := h.Handle(context.Background(), domain.NewMessage(conv, who, text, nil, nil))
	return replies
}

func single(t *testing.T, replies []Reply) string {
	t.Helper()
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d: %+v", len(replies), replies)
	}
	return replies[0].Text
}

// issueToken runs /token in conv and returns the token from the reply.
func issueToken(t *testing.T, h *Handler, conv domain.Conversation, who *domain.Person) string {
	t.Helper()
	text := single(t, say(h, conv, who, "/token"))
	fields := strings.Fields(text)
	token := fields[len(fields)-1]
	if !strings.HasPrefix(token, TokenPrefix) {
		t.Fatalf("no token in %q", text)
	}
	return token
}

func TestParse(t *testing.T) {
	tests := []struct {
		text string
		name string
		args []string
	}{
		{"/help", "help", nil},
		{"  /LIST  ", "list", nil},
		{"/connect $mbb2$abc", "connect", []string{"$mbb2$abc"}},
		{"/disconnect_3", "disconnect", []string{"3"}},
		{"/direction_3 right", "direction", []string{"3", "right"}},
		{"/token@bridge_bot", "token", nil},
	}
	for _, tt := range tests {
		cmd := Parse(tt.text)
		if cmd == nil {
			t.Fatalf("Parse(%q) = nil", tt.text)
		}
		if cmd.Name != tt.name {
			t.Errorf("Parse(%q).Name = %q, want %q", tt.text, cmd.Name, tt.name)
		}
		if strings.Join(cmd.Args, ",") != strings.Join(tt.args, ",") {
			t.Errorf("Parse(%q).Args = %v, want %v", tt.text, cmd.Args, tt.args)
		}
	}

	for _, text := range []string{"hello", "", "/", " / help"} {
		if Parse(text) != nil {
			t.Errorf("Parse(%q) should be nil", text)
		}
	}
}

func TestHelpAndUnknown(t *testing.T) {
	h, _ := testHandler(t, false)
	if !strings.Contains(single(t, say(h, tgChat, alice, "/start")), "/connect <token>") {
		t.Error("help should list /connect")
	}
	r, handled := h.Handle(context.Background(), domain.NewMessage(tgChat, alice, "/shrug ok", nil, nil))
	if handled || r != nil {
		t.Errorf("unknown command should be left for relaying, got %+v, %v", r, handled)
	}
}

func TestConnectFlow(t *testing.T) {
	h, s := testHandler(t, false)
	ctx := context.Background()
	if err := s.UpsertConversation(ctx, tgChat); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertConversation(ctx, vkChat); err != nil {
		t.Fatal(err)
	}

	token := issueToken(t, h, tgChat, alice)
	if !strings.Contains(single(t, say(h, tgChat, alice, "/list")), "waiting for /connect") {
		t.Error("pending connection should be listed")
	}

	replies := say(h, vkChat, bob, "/connect "+token)
	if len(replies) != 2 {
		t.Fatalf("expected replies to both chats, got %+v", replies)
	}
	if replies[0].To.Key != vkChat.Key || !strings.Contains(replies[0].Text, "Friends (Telegram)") {
		t.Errorf("reply to redeeming chat: %+v", replies[0])
	}
	if replies[1].To.Key != tgChat.Key || !strings.Contains(replies[1].Text, "Друзья (VK)") {
		t.Errorf("reply to issuing chat: %+v", replies[1])
	}

	conns, err := s.FindConnectionsFor(ctx, tgChat.Key)
	if err != nil || len(conns) != 1 || conns[0].Pending() {
		t.Fatalf("connection not completed: %+v, %v", conns, err)
	}

	if got := single(t, say(h, vkChat, bob, "/connect "+token)); !strings.Contains(got, "Unknown or already used") {
		t.Errorf("reused token: %q", got)
	}

	list := single(t, say(h, vkChat, bob, "/list"))
	if !strings.Contains(list, "⇄ Friends (Telegram) [both]") || !strings.Contains(list, "/disconnect_1") {
		t.Errorf("list = %q", list)
	}

	// A second connection between the same chats is refused.
	again := issueToken(t, h, vkChat, bob)
	if got := single(t, say(h, tgChat, alice, "/connect "+again)); !strings.Contains(got, "already connected as #1") {
		t.Errorf("duplicate connect: %q", got)
	}
}

func TestConnectRejects(t *testing.T) {
	h, s := testHandler(t, false)

	if got := single(t, say(h, tgChat, alice, "/connect")); !strings.HasPrefix(got, "Usage") {
		t.Errorf("missing token: %q", got)
	}
	if got := single(t, say(h, tgChat, alice, "/connect $mbb2$nope")); !strings.Contains(got, "Unknown") {
		t.Errorf("unknown token: %q", got)
	}

	token := issueToken(t, h, tgChat, alice)
	if got := single(t, say(h, tgChat, alice, "/connect "+token)); !strings.Contains(got, "itself") {
		t.Errorf("self connect: %q", got)
	}

	h.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if got := single(t, say(h, vkChat, bob, "/connect "+token)); !strings.Contains(got, "expired") {
		t.Errorf("expired token: %q", got)
	}
	c, err := s.FindConnectionByToken(context.Background(), token)
	if err != nil || c != nil {
		t.Errorf("expired connection should be deleted, got %+v, %v", c, err)
	}
}

func TestDisconnectAndDirection(t *testing.T) {
	h, s := testHandler(t, false)
	ctx := context.Background()
	token := issueToken(t, h, tgChat, alice)
	say(h, vkChat, bob, "/connect "+token)

	other := domain.Conversation{Key: domain.Key{Provider: domain.ProviderVK, ID: "2000000009"}}
	if got := single(t, say(h, other, bob, "/disconnect 1")); !strings.Contains(got, "no connection #1") {
		t.Errorf("outsider disconnect: %q", got)
	}
	if got := single(t, say(h, tgChat, alice, "/disconnect abc")); !strings.Contains(got, "connection id") {
		t.Errorf("bad id: %q", got)
	}

	if got := single(t, say(h, tgChat, alice, "/direction 1 sideways")); !strings.HasPrefix(got, "Usage") {
		t.Errorf("bad direction: %q", got)
	}
	got := single(t, say(h, vkChat, bob, "/direction_1 right"))
	if !strings.Contains(got, "→") {
		t.Errorf("direction reply: %q", got)
	}
	c, err := s.FindConnection(ctx, 1)
	if err != nil || c.Direction != domain.ToRight {
		t.Fatalf("direction not stored: %+v, %v", c, err)
	}
	if list := single(t, say(h, vkChat, bob, "/list")); !strings.Contains(list, "← Friends") {
		t.Errorf("right side should see incoming arrow: %q", list)
	}

	replies := say(h, vkChat, bob, "/disconnect_1")
	if len(replies) != 2 || replies[1].To.Key != tgChat.Key {
		t.Fatalf("disconnect should notify the other chat: %+v", replies)
	}
	if c, _ := s.FindConnection(ctx, 1); c != nil {
		t.Error("connection still stored")
	}
}

func TestAuthGate(t *testing.T) {
	h, _ := testHandler(t, true)

	if got := single(t, say(h, tgChat, alice, "/token")); !strings.Contains(got, "not authorised") {
		t.Errorf("token without auth: %q", got)
	}
	if got := single(t, say(h, tgChat, alice, "/auth wrong")); got != "Wrong password." {
		t.Errorf("wrong password: %q", got)
	}
	if got := single(t, say(h, tgChat, alice, "/auth hunter2")); !strings.Contains(got, "Alice is now authorised") {
		t.Errorf("auth: %q", got)
	}
	issueToken(t, h, tgChat, alice)

	// Authorisation is per person, not per chat.
	if got := single(t, say(h, tgChat, bob, "/token")); !strings.Contains(got, "not authorised") {
		t.Errorf("other person: %q", got)
	}
	if got := single(t, say(h, tgChat, nil, "/token")); !strings.Contains(got, "not authorised") {
		t.Errorf("anonymous: %q", got)
	}

	say(h, tgChat, alice, "/deauth")
	if got := single(t, say(h, tgChat, alice, "/token")); !strings.Contains(got, "not authorised") {
		t.Errorf("token after deauth: %q", got)
	}
}

func TestAuthDisabled(t *testing.T) {
	h, _ := testHandler(t, false)
	if got := single(t, say(h, tgChat, alice, "/auth hunter2")); !strings.Contains(got, "not required") {
		t.Errorf("auth when disabled: %q", got)
	}
}

func TestStoreFailureReportsErrorID(t *testing.T) {
	h, s := testHandler(t, false)
	s.Close()
	got := single(t, say(h, tgChat, alice, "/list"))
	if !strings.Contains(got, "error id") {
		t.Errorf("store failure reply: %q", got)
	}
}
