package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaydesk/config"
	"relaydesk/internal/domain/conversation"
	"relaydesk/internal/handler"
	"relaydesk/internal/middleware"
	"relaydesk/internal/provider/whatsapp"
	"relaydesk/internal/repository"
	"relaydesk/internal/services"
	"relaydesk/pkg/logger"
)

type okGateway struct{}

func (okGateway) Send(ctx context.Context, msg whatsapp.OutboundMessage) whatsapp.SendResult {
	return whatsapp.SendResult{MessageID: "wamid.handler.1"}
}

const inboundJSON = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "waba",
    "changes": [{
      "field": "messages",
      "value": {
        "messaging_product": "whatsapp",
        "contacts": [{"wa_id": "15559990", "profile": {"name": "Dee"}}],
        "messages": [{"from": "15559990", "id": "wamid.in.1", "timestamp": "1700000000", "type": "text", "text": {"body": "hello"}}]
      }
    }]
  }]
}`

const mixedBatchJSON = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "waba",
    "changes": [{
      "field": "messages",
      "value": {
        "messages": [
          {"from": "15559991", "id": "wamid.in.2", "timestamp": "1700000000", "type": "text", "text": "not-an-object"},
          {"from": "15559992", "id": "wamid.in.3", "timestamp": "1700000001", "type": "text", "text": {"body": "still here"}}
        ],
        "statuses": [
          {"id": 42, "status": "read"}
        ]
      }
    }]
  }]
}`

var _ = Describe("HTTP handlers", func() {
	var (
		convs  *repository.MemoryConversationRepository
		auth   *services.AuthService
		engine *gin.Engine
		secret string
	)

	build := func() {
		l := logger.NewNop()
		msgs := repository.NewMemoryMessageRepository()
		outboxes := repository.NewMemoryOutboxRepository()

		webhooks := handler.NewWebhookHandler(
			services.NewWebhookService(convs, msgs, outboxes, nil, nil, "verify-me", l), secret, l)
		messages := handler.NewMessageHandler(
			services.NewSendService(convs, msgs, outboxes, okGateway{}, services.NewMediaService(nil), nil, 0, l))
		conversations := handler.NewConversationHandler(
			services.NewConversationService(convs, msgs, outboxes, nil, l))

		engine = gin.New()
		engine.GET("/v1/webhooks/whatsapp", webhooks.Verify)
		engine.POST("/v1/webhooks/whatsapp", webhooks.Receive)
		authed := engine.Group("/v1", middleware.AuthMiddleware(auth))
		authed.POST("/messages/send", messages.Send)
		authed.GET("/conversations", conversations.List)
		authed.GET("/conversations/:id", conversations.Get)
	}

	do := func(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		engine.ServeHTTP(rec, req)
		return rec
	}

	bearer := func(userID string, role services.Role) map[string]string {
		token, _, err := auth.IssueAccessToken(services.Subject{UserID: userID, Role: role})
		Expect(err).NotTo(HaveOccurred())
		return map[string]string{"Authorization": "Bearer " + token}
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		convs = repository.NewMemoryConversationRepository()
		auth = services.NewAuthService(&config.Config{JWTSecret: "handler-secret", JWTExpiryMin: 60})
		secret = ""
		build()
	})

	Describe("webhook handshake", func() {
		It("echoes the challenge as plain text", func() {
			rec := do(http.MethodGet, "/v1/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=4242", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("4242"))
			Expect(rec.Header().Get("Content-Type")).To(HavePrefix("text/plain"))
		})

		It("accepts the bare parameter names", func() {
			rec := do(http.MethodGet, "/v1/webhooks/whatsapp?mode=subscribe&verify_token=verify-me&challenge=77", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(Equal("77"))
		})

		It("answers 403 on a token mismatch", func() {
			rec := do(http.MethodGet, "/v1/webhooks/whatsapp?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1", nil, nil)
			Expect(rec.Code).To(Equal(http.StatusForbidden))
			Expect(rec.Body.String()).To(ContainSubstring(`"success":false`))
		})
	})

	Describe("webhook delivery", func() {
		It("acknowledges and ingests a valid payload", func() {
			rec := do(http.MethodPost, "/v1/webhooks/whatsapp", []byte(inboundJSON), nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"success":true}`))

			conv, err := convs.FindByContact(context.Background(), "15559990")
			Expect(err).NotTo(HaveOccurred())
			Expect(conv.CustomerName).To(Equal("Dee"))
		})

		It("ingests well-formed items next to a mistyped one", func() {
			rec := do(http.MethodPost, "/v1/webhooks/whatsapp", []byte(mixedBatchJSON), nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"success":true}`))

			_, err := convs.FindByContact(context.Background(), "15559992")
			Expect(err).NotTo(HaveOccurred())
			_, err = convs.FindByContact(context.Background(), "15559991")
			Expect(err).To(HaveOccurred())
		})

		It("answers 500 on a malformed payload", func() {
			rec := do(http.MethodPost, "/v1/webhooks/whatsapp", []byte(`{"object":`), nil)
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})

		It("checks the payload signature when an app secret is configured", func() {
			secret = "app-secret"
			build()

			rec := do(http.MethodPost, "/v1/webhooks/whatsapp", []byte(inboundJSON),
				map[string]string{whatsapp.SignatureHeader: "sha256=deadbeef"})
			Expect(rec.Code).To(Equal(http.StatusForbidden))

			rec = do(http.MethodPost, "/v1/webhooks/whatsapp", []byte(inboundJSON),
				map[string]string{whatsapp.SignatureHeader: whatsapp.Sign("app-secret", []byte(inboundJSON))})
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})

	Describe("send", func() {
		It("returns 201 with the message and conversation", func() {
			body, _ := json.Marshal(map[string]string{"to": "15558880", "content": "hi there"})
			rec := do(http.MethodPost, "/v1/messages/send", body, bearer("agent-1", services.RoleClientUser))
			Expect(rec.Code).To(Equal(http.StatusCreated))

			var resp struct {
				Success bool `json:"success"`
				Data    struct {
					Message struct {
						Status  string `json:"status"`
						Content string `json:"content"`
					} `json:"message"`
					Conversation struct {
						CustomerContact string `json:"customer_contact"`
					} `json:"conversation"`
				} `json:"data"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp.Success).To(BeTrue())
			Expect(resp.Data.Message.Status).To(Equal("sent"))
			Expect(resp.Data.Message.Content).To(Equal("hi there"))
			Expect(resp.Data.Conversation.CustomerContact).To(Equal("15558880"))
		})

		It("answers 400 on missing fields", func() {
			body, _ := json.Marshal(map[string]string{"to": "15558880"})
			rec := do(http.MethodPost, "/v1/messages/send", body, bearer("agent-1", services.RoleClientUser))
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("answers 401 without credentials", func() {
			rec := do(http.MethodPost, "/v1/messages/send", []byte(`{"to":"1","content":"x"}`), nil)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})
	})

	Describe("conversations", func() {
		It("lists with pagination and scopes client users", func() {
			owner := "agent-1"
			_, _, err := convs.FindOrCreate(context.Background(), conversation.Conversation{CustomerContact: "15557770", AssignedTo: &owner})
			Expect(err).NotTo(HaveOccurred())
			_, _, err = convs.FindOrCreate(context.Background(), conversation.Conversation{CustomerContact: "15557771"})
			Expect(err).NotTo(HaveOccurred())

			rec := do(http.MethodGet, "/v1/conversations?limit=10", nil, bearer("agent-1", services.RoleClientUser))
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(ContainSubstring(`"total":1`))

			rec = do(http.MethodGet, "/v1/conversations?limit=10", nil, bearer("boss", services.RoleAdmin))
			Expect(rec.Body.String()).To(ContainSubstring(`"total":2`))
			Expect(rec.Body.String()).To(ContainSubstring(`"limit":10`))
		})

		It("answers 404 for an unknown conversation", func() {
			rec := do(http.MethodGet, "/v1/conversations/6f1c1d3e-0000-4000-8000-000000000000", nil, bearer("boss", services.RoleAdmin))
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})
	})
})
