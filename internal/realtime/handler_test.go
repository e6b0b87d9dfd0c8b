package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"bizlink/messaging-service/internal/auth"
	"bizlink/messaging-service/internal/models"
	"bizlink/messaging-service/internal/service"
)

const testSecret = "test-secret"

type stubAccountRepo struct {
	accounts map[string]*models.Account
}

func (s *stubAccountRepo) InitializeTables() error { return nil }

func (s *stubAccountRepo) GetByID(_ context.Context, id string) (*models.Account, error) {
	if account, ok := s.accounts[id]; ok {
		return account, nil
	}
	return &models.Account{ID: id, Name: id, UserType: models.UserTypeCustomer, IsActive: true}, nil
}

type stubService struct {
	service.MessagingService

	sendMessage     func(ctx context.Context, in service.SendInput) (*service.SendResult, error)
	markMessageRead func(ctx context.Context, messageID, requesterID string) (*models.Message, error)
	ownsBusiness    func(ctx context.Context, userID, businessID string) (bool, error)
}

func (s *stubService) SendMessage(ctx context.Context, in service.SendInput) (*service.SendResult, error) {
	return s.sendMessage(ctx, in)
}

func (s *stubService) MarkMessageRead(ctx context.Context, messageID, requesterID string) (*models.Message, error) {
	return s.markMessageRead(ctx, messageID, requesterID)
}

func (s *stubService) OwnsBusiness(ctx context.Context, userID, businessID string) (bool, error) {
	return s.ownsBusiness(ctx, userID, businessID)
}

func wsToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newWSServer(t *testing.T, svc service.MessagingService) (*httptest.Server, *Presence) {
	t.Helper()
	accounts := &stubAccountRepo{accounts: map[string]*models.Account{
		"owner1": {ID: "owner1", Name: "Olive", UserType: models.UserTypeBusiness, IsActive: true},
	}}
	verifier := auth.NewVerifier(testSecret, accounts)
	presence := NewPresence()
	deliverer := NewDeliverer(presence, true, testLogger())
	handler := NewHandler(svc, verifier, presence, deliverer, []string{"*"}, testLogger())

	server := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	t.Cleanup(server.Close)
	return server, presence
}

func dial(t *testing.T, server *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?token=" + wsToken(t, userID)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForEvent reads frames until the wanted event arrives, skipping
// unrelated broadcasts such as status changes.
func waitForEvent(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	_ = conn.SetReadDeadline(deadline)
	for {
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if frame.Event == want {
			return frame.Data
		}
	}
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteJSON(map[string]interface{}{"event": event, "data": json.RawMessage(raw)}); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestAdmissionRefusedWithoutToken(t *testing.T) {
	server, presence := newWSServer(t, &stubService{})

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected the dial to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before upgrade, got %+v", resp)
	}
	if len(presence.Connections()) != 0 {
		t.Fatal("a refused connection must never reach the presence registry")
	}
}

func TestConnectRegistersPresence(t *testing.T) {
	server, presence := newWSServer(t, &stubService{})

	conn := dial(t, server, "cust1")
	data := waitForEvent(t, conn, EventConnected)

	var payload struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.UserID != "cust1" {
		t.Fatalf("unexpected connected payload: %s", data)
	}
	if !presence.IsOnline("cust1") {
		t.Fatal("user should be online after admission")
	}

	conn.Close()
	deadline := time.Now().Add(3 * time.Second)
	for presence.IsOnline("cust1") {
		if time.Now().After(deadline) {
			t.Fatal("user should be offline after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSendMessageDeliversToBothSides(t *testing.T) {
	now := time.Now()
	svc := &stubService{
		sendMessage: func(_ context.Context, in service.SendInput) (*service.SendResult, error) {
			if in.SenderID != "cust1" {
				t.Fatalf("sender identity must come from the connection, got %q", in.SenderID)
			}
			return &service.SendResult{
				Message: &models.Message{
					ID:             "m1",
					ConversationID: "cust1_biz1",
					SenderID:       "cust1",
					ReceiverID:     "owner1",
					BusinessID:     "biz1",
					Content:        in.Content,
					Type:           models.MessageTypeText,
					CreatedAt:      now,
				},
				Conversation: &models.Conversation{
					ID:              "cust1_biz1",
					BusinessID:      "biz1",
					CustomerID:      "cust1",
					BusinessOwnerID: "owner1",
					UnreadBusiness:  1,
					IsActive:        true,
				},
				ReceiverRole: models.RoleBusinessOwner,
			}, nil
		},
	}
	server, _ := newWSServer(t, svc)

	owner := dial(t, server, "owner1")
	waitForEvent(t, owner, EventConnected)

	customer := dial(t, server, "cust1")
	waitForEvent(t, customer, EventConnected)

	sendFrame(t, customer, EventSendMessage, map[string]string{
		"receiverId": "owner1",
		"businessId": "biz1",
		"content":    "Hi",
	})

	ack := waitForEvent(t, customer, EventMessageSent)
	var ackPayload struct {
		Message models.Message `json:"message"`
	}
	if err := json.Unmarshal(ack, &ackPayload); err != nil || ackPayload.Message.ID != "m1" {
		t.Fatalf("unexpected ack payload: %s", ack)
	}

	delivered := waitForEvent(t, owner, EventNewMessage)
	var deliveredPayload struct {
		Message models.Message `json:"message"`
	}
	if err := json.Unmarshal(delivered, &deliveredPayload); err != nil || deliveredPayload.Message.Content != "Hi" {
		t.Fatalf("unexpected delivery payload: %s", delivered)
	}
}

func TestSendMessageErrorIsIsolated(t *testing.T) {
	svc := &stubService{
		sendMessage: func(_ context.Context, _ service.SendInput) (*service.SendResult, error) {
			return nil, service.ErrEmptyContent
		},
	}
	server, _ := newWSServer(t, svc)

	customer := dial(t, server, "cust1")
	waitForEvent(t, customer, EventConnected)

	sendFrame(t, customer, EventSendMessage, map[string]string{
		"receiverId": "owner1",
		"businessId": "biz1",
	})

	data := waitForEvent(t, customer, EventMessageError)
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Code != CodeValidationFailure {
		t.Fatalf("unexpected error payload: %s", data)
	}

	// The connection survives the failed event.
	sendFrame(t, customer, EventUserStatus, map[string]string{"status": "busy"})
	waitForEvent(t, customer, EventUserStatusChange)
}

func TestMarkReadDenied(t *testing.T) {
	svc := &stubService{
		markMessageRead: func(_ context.Context, _, _ string) (*models.Message, error) {
			return nil, service.ErrNotReceiver
		},
	}
	server, _ := newWSServer(t, svc)

	conn := dial(t, server, "cust1")
	waitForEvent(t, conn, EventConnected)

	sendFrame(t, conn, EventMarkRead, map[string]string{"messageId": "m1", "conversationId": "c1"})

	data := waitForEvent(t, conn, EventMarkReadError)
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Code != CodeAuthorizationFailure {
		t.Fatalf("unexpected error payload: %s", data)
	}
}

func TestJoinBusinessRequiresOwnership(t *testing.T) {
	svc := &stubService{
		ownsBusiness: func(_ context.Context, userID, businessID string) (bool, error) {
			return userID == "owner1" && businessID == "biz1", nil
		},
	}
	server, presence := newWSServer(t, svc)

	intruder := dial(t, server, "cust1")
	waitForEvent(t, intruder, EventConnected)
	sendFrame(t, intruder, EventJoinBusiness, map[string]string{"businessId": "biz1"})

	data := waitForEvent(t, intruder, EventError)
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Code != CodeAuthorizationFailure {
		t.Fatalf("unexpected error payload: %s", data)
	}

	owner := dial(t, server, "owner1")
	waitForEvent(t, owner, EventConnected)
	sendFrame(t, owner, EventJoinBusiness, map[string]string{"businessId": "biz1"})

	deadline := time.Now().Add(3 * time.Second)
	for len(presence.BusinessRoom("biz1")) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("owner should have joined the business room")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReplacedConnectionDoesNotAnnounceOffline(t *testing.T) {
	server, presence := newWSServer(t, &stubService{})

	observer := dial(t, server, "owner1")
	waitForEvent(t, observer, EventConnected)

	first := dial(t, server, "cust1")
	waitForEvent(t, first, EventConnected)

	second := dial(t, server, "cust1")
	waitForEvent(t, second, EventConnected)

	// The first connection is closed by the replacement.
	_ = first.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}
	time.Sleep(100 * time.Millisecond)

	if !presence.IsOnline("cust1") {
		t.Fatal("the replacement connection must keep the user online")
	}

	// A status change from the live connection marks the point past which
	// no stale offline broadcast may have arrived.
	sendFrame(t, second, EventUserStatus, map[string]string{"status": "away"})

	deadline := time.Now().Add(3 * time.Second)
	_ = observer.SetReadDeadline(deadline)
	for {
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := observer.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for status change: %v", err)
		}
		if frame.Event != EventUserStatusChange {
			continue
		}
		var payload struct {
			UserID string `json:"userId"`
			Status string `json:"status"`
		}
		if err := json.Unmarshal(frame.Data, &payload); err != nil {
			t.Fatalf("unmarshal status payload: %v", err)
		}
		if payload.UserID != "cust1" {
			continue
		}
		if payload.Status == "offline" {
			t.Fatal("a replaced connection must not announce the user offline")
		}
		if payload.Status == "away" {
			return
		}
	}
}

func TestTypingRelayBetweenConnectedPeers(t *testing.T) {
	server, _ := newWSServer(t, &stubService{})

	owner := dial(t, server, "owner1")
	waitForEvent(t, owner, EventConnected)

	customer := dial(t, server, "cust1")
	waitForEvent(t, customer, EventConnected)

	sendFrame(t, customer, EventTypingStart, map[string]string{
		"receiverId":     "owner1",
		"businessId":     "biz1",
		"conversationId": "cust1_biz1",
	})

	data := waitForEvent(t, owner, EventUserTyping)
	var payload struct {
		SenderID string `json:"senderId"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.SenderID != "cust1" {
		t.Fatalf("unexpected typing payload: %s", data)
	}
}
