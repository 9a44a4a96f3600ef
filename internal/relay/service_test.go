package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"github.com/localmesh/relay/internal/auth"
	"github.com/localmesh/relay/internal/chat"
	"github.com/localmesh/relay/internal/data"
	"github.com/localmesh/relay/internal/hub"
	"github.com/localmesh/relay/internal/notify"
	"github.com/localmesh/relay/internal/presence"
	"github.com/localmesh/relay/internal/store"
	"github.com/localmesh/relay/internal/wire"
)

type fakeConn struct {
	mu     sync.Mutex
	events []wire.Outgoing
}

func (f *fakeConn) Send(event string, d any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, wire.Outgoing{Event: event, Data: d})
	return nil
}

func (f *fakeConn) byEvent(event string) []wire.Outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []wire.Outgoing
	for _, e := range f.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fakePusher struct {
	mu    sync.Mutex
	notes []wire.Notification
}

func (f *fakePusher) Send(_ context.Context, _ data.PushSubscription, note wire.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
	return nil
}

type safetyCall struct {
	alertID  string
	userID   string
	status   string
	message  string
	location *wire.UpdateLocation
}

type fakeReporter struct {
	acks   []string
	safety []safetyCall
}

func (f *fakeReporter) ReportAcknowledge(alertID, userID string) error {
	f.acks = append(f.acks, alertID+"/"+userID)
	return nil
}

func (f *fakeReporter) ReportSafety(alertID, userID, status, message string, loc *wire.UpdateLocation) error {
	f.safety = append(f.safety, safetyCall{alertID, userID, status, message, loc})
	return nil
}

type fixture struct {
	registry *hub.Hub
	router   *hub.Router
	prefs    *data.PreferencesStore
	engine   *chat.Engine
	pusher   *fakePusher
	reporter *fakeReporter
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	kv := store.NewMemory()
	registry := hub.New()
	router := hub.NewRouter(registry, nil)
	prefs := data.NewPreferencesStore(kv)
	pusher := &fakePusher{}
	reporter := &fakeReporter{}
	dispatcher := notify.NewDispatcher(prefs, pusher, nil)
	signaler := presence.NewSignaler(registry, router, data.NewPresenceStore(kv), nil)
	engine := chat.NewEngine(data.NewMessagesStore(kv), registry, router, dispatcher, false, nil)
	svc := NewService(registry, router, signaler, engine, dispatcher, reporter, nil)
	return &fixture{
		registry: registry,
		router:   router,
		prefs:    prefs,
		engine:   engine,
		pusher:   pusher,
		reporter: reporter,
		svc:      svc,
	}
}

func (fx *fixture) connect(t *testing.T, userID string) (*fakeConn, hub.Session) {
	t.Helper()
	c := &fakeConn{}
	sess, _ := fx.registry.Register(c, auth.Identity{ID: userID, DisplayName: userID})
	return c, sess
}

func (fx *fixture) subscribe(t *testing.T, userID string) {
	t.Helper()
	err := fx.prefs.SaveSubscription(context.Background(), userID, data.PushSubscription{
		Endpoint: "https://push.example/" + userID,
	})
	if err != nil {
		t.Fatalf("SaveSubscription failed: %v", err)
	}
}

func TestSendNotificationToUser_OnlineGetsLiveEvent(t *testing.T) {
	fx := newFixture(t)
	c1, _ := fx.connect(t, "alice")
	c2, _ := fx.connect(t, "alice")
	fx.subscribe(t, "alice")

	note := wire.Notification{Title: "New gig", Body: "Fence repair nearby"}
	if err := fx.svc.SendNotificationToUser(context.Background(), "alice", "gigs", note); err != nil {
		t.Fatalf("SendNotificationToUser failed: %v", err)
	}

	for i, c := range []*fakeConn{c1, c2} {
		if got := len(c.byEvent(wire.EvNotification)); got != 1 {
			t.Fatalf("device %d: expected 1 live notification, got %d", i, got)
		}
	}
	if len(fx.pusher.notes) != 0 {
		t.Fatalf("online user must not be pushed, got %d", len(fx.pusher.notes))
	}
}

func TestSendNotificationToUser_OfflineFallsBackToPush(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, "bob")

	note := wire.Notification{Title: "New gig", Body: "Dog walking"}
	if err := fx.svc.SendNotificationToUser(context.Background(), "bob", "gigs", note); err != nil {
		t.Fatalf("SendNotificationToUser failed: %v", err)
	}
	if len(fx.pusher.notes) != 1 {
		t.Fatalf("expected 1 push, got %d", len(fx.pusher.notes))
	}
	if fx.pusher.notes[0].Body != "Dog walking" {
		t.Fatalf("unexpected push body %q", fx.pusher.notes[0].Body)
	}
}

func TestSendNotificationToUser_RejectsUnknownCategory(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, "bob")

	note := wire.Notification{Title: "New gig", Body: "Dog walking"}
	err := fx.svc.SendNotificationToUser(context.Background(), "bob", "gigz", note)
	if err == nil {
		t.Fatalf("unknown category must be rejected, not silently dropped")
	}
	if len(fx.pusher.notes) != 0 {
		t.Fatalf("rejected notification must not be pushed, got %d", len(fx.pusher.notes))
	}
}

func TestSendEmergencyAlert_Targeted(t *testing.T) {
	fx := newFixture(t)
	online, _ := fx.connect(t, "alice")
	fx.subscribe(t, "bob") // offline

	// bob opted out of everything; emergency must still reach him.
	off := false
	if _, err := fx.prefs.Update(context.Background(), "bob", data.PreferencesPatch{PushEnabled: &off}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	err := fx.svc.SendEmergencyAlert(context.Background(), "Gas leak on Main St", "critical", []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("SendEmergencyAlert failed: %v", err)
	}

	events := online.byEvent(wire.EvEmergencyAlert)
	if len(events) != 1 {
		t.Fatalf("expected 1 live alert for alice, got %d", len(events))
	}
	alert := events[0].Data.(data.EmergencyAlert)
	if alert.ID == "" || alert.Message != "Gas leak on Main St" {
		t.Fatalf("unexpected alert %+v", alert)
	}

	if len(fx.pusher.notes) != 1 {
		t.Fatalf("expected 1 emergency push for bob, got %d", len(fx.pusher.notes))
	}
	if fx.pusher.notes[0].Body != "Gas leak on Main St" {
		t.Fatalf("unexpected push body %q", fx.pusher.notes[0].Body)
	}
}

func TestSendEmergencyAlert_BroadcastAll(t *testing.T) {
	fx := newFixture(t)
	c1, _ := fx.connect(t, "alice")
	c2, _ := fx.connect(t, "bob")

	if err := fx.svc.SendEmergencyAlert(context.Background(), "Evacuate", "", nil); err != nil {
		t.Fatalf("SendEmergencyAlert failed: %v", err)
	}
	for i, c := range []*fakeConn{c1, c2} {
		events := c.byEvent(wire.EvEmergencyAlert)
		if len(events) != 1 {
			t.Fatalf("conn %d: expected 1 alert, got %d", i, len(events))
		}
		if events[0].Data.(data.EmergencyAlert).Severity != "critical" {
			t.Fatalf("empty severity must default to critical")
		}
	}

	if err := fx.svc.SendEmergencyAlert(context.Background(), "", "critical", nil); err == nil {
		t.Fatalf("empty message must be rejected")
	}
}

func TestBroadcastToLocation(t *testing.T) {
	fx := newFixture(t)
	near, nearSess := fx.connect(t, "alice")
	far, farSess := fx.connect(t, "bob")
	fx.router.JoinGeoCell(nearSess.Handle, 51.5072, -0.1276)
	fx.router.JoinGeoCell(farSess.Handle, 40.7128, -74.0060)

	n := fx.svc.BroadcastToLocation(51.5071, -0.1283, "community:event", map[string]string{"name": "street fair"})
	if n != 1 {
		t.Fatalf("expected 1 connection in cell, got %d", n)
	}
	if len(near.byEvent("community:event")) != 1 {
		t.Fatalf("nearby connection did not receive the broadcast")
	}
	if len(far.byEvent("community:event")) != 0 {
		t.Fatalf("distant connection must not receive the broadcast")
	}
}

func TestAlertReports(t *testing.T) {
	fx := newFixture(t)

	if err := fx.svc.AcknowledgeAlert("alert-1", "alice"); err != nil {
		t.Fatalf("AcknowledgeAlert failed: %v", err)
	}
	loc := &wire.UpdateLocation{Latitude: 51.5, Longitude: -0.12}
	if err := fx.svc.ReportSafetyStatus("alert-1", "alice", "needs_help", "leg injury", loc); err != nil {
		t.Fatalf("ReportSafetyStatus failed: %v", err)
	}
	if len(fx.reporter.acks) != 1 || fx.reporter.acks[0] != "alert-1/alice" {
		t.Fatalf("ack not forwarded: %v", fx.reporter.acks)
	}
	if len(fx.reporter.safety) != 1 {
		t.Fatalf("safety status not forwarded: %v", fx.reporter.safety)
	}
	got := fx.reporter.safety[0]
	if got.alertID != "alert-1" || got.userID != "alice" || got.status != "needs_help" {
		t.Fatalf("unexpected safety call: %+v", got)
	}
	if got.message != "leg injury" {
		t.Fatalf("message not forwarded: %+v", got)
	}
	if got.location == nil || got.location.Latitude != 51.5 {
		t.Fatalf("location not forwarded: %+v", got.location)
	}

	// Without a reporter the calls are logged no-ops, not errors.
	noBus := NewService(fx.registry, fx.router, nil, nil, nil, nil, nil)
	if err := noBus.AcknowledgeAlert("alert-1", "alice"); err != nil {
		t.Fatalf("nil reporter must not error: %v", err)
	}
}

func TestHTTPAPI(t *testing.T) {
	fx := newFixture(t)
	conn, _ := fx.connect(t, "alice")

	r := mux.NewRouter()
	NewAPI(fx.svc).Register(r)
	srv := httptest.NewServer(r)
	defer srv.Close()

	body, _ := json.Marshal(map[string]any{"message": "Flood warning", "severity": "warning"})
	resp, err := http.Post(srv.URL+"/internal/alerts", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /internal/alerts failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	if len(conn.byEvent(wire.EvEmergencyAlert)) != 1 {
		t.Fatalf("alert posted over HTTP did not reach the connection")
	}

	// An unknown notification category is a client error at the boundary.
	body, _ = json.Marshal(map[string]any{"userId": "alice", "category": "bogus", "title": "hi"})
	resp, err = http.Post(srv.URL+"/internal/notifications", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /internal/notifications failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown category, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/internal/users")
	if err != nil {
		t.Fatalf("GET /internal/users failed: %v", err)
	}
	defer resp.Body.Close()
	var users struct {
		Users []string `json:"users"`
		Count int      `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		t.Fatalf("decode users: %v", err)
	}
	if users.Count != 1 || len(users.Users) != 1 || users.Users[0] != "alice" {
		t.Fatalf("unexpected connected users: %+v", users)
	}

	resp, err = http.Get(srv.URL + "/internal/users/alice/status")
	if err != nil {
		t.Fatalf("GET status failed: %v", err)
	}
	defer resp.Body.Close()
	var status struct {
		UserID string `json:"userId"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.Status != "online" {
		t.Fatalf("expected online, got %q", status.Status)
	}

	// Conversation history is served to collaborators too.
	_, sess := fx.connect(t, "carol")
	if _, err := fx.engine.SendMessage(context.Background(), sess, wire.SendMessage{RecipientID: "alice", Content: "hi"}); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	resp, err = http.Get(srv.URL + "/internal/history/direct?a=carol&b=alice")
	if err != nil {
		t.Fatalf("GET history failed: %v", err)
	}
	defer resp.Body.Close()
	var hist struct {
		Messages []data.ChatMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Messages) != 1 || hist.Messages[0].Content != "hi" {
		t.Fatalf("unexpected history: %+v", hist.Messages)
	}
}
