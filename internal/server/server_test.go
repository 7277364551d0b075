package server_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaydesk/config"
	"relaydesk/internal/handler"
	"relaydesk/internal/provider/whatsapp"
	"relaydesk/internal/repository"
	"relaydesk/internal/server"
	"relaydesk/internal/services"
	"relaydesk/internal/websocket"
	"relaydesk/pkg/logger"
)

type noopGateway struct{}

func (noopGateway) Send(ctx context.Context, msg whatsapp.OutboundMessage) whatsapp.SendResult {
	return whatsapp.SendResult{MessageID: "wamid.x"}
}

var _ = Describe("Server routes", func() {
	var (
		cfg     *config.Config
		healthy error
		srv     *server.Server
		auth    *services.AuthService
	)

	do := func(method, path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		srv.Engine().ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		cfg = &config.Config{
			AppMode:      server.TestMode,
			AppPort:      "0",
			JWTSecret:    "server-secret",
			JWTExpiryMin: 60,
			RealtimePath: "/socket",
			CORSOrigins:  []string{"http://localhost:3000"},
		}
		healthy = nil
		l := logger.NewNop()
		auth = services.NewAuthService(cfg)

		convs := repository.NewMemoryConversationRepository()
		msgs := repository.NewMemoryMessageRepository()
		outboxes := repository.NewMemoryOutboxRepository()
		hub := websocket.NewHub(websocket.NewLogger(l))
		media := services.NewMediaService(nil)

		srv = server.New(cfg, l)
		srv.SetupRoutes(&server.Handlers{
			Webhook:      handler.NewWebhookHandler(services.NewWebhookService(convs, msgs, outboxes, hub, nil, "tok", l), "", l),
			Message:      handler.NewMessageHandler(services.NewSendService(convs, msgs, outboxes, noopGateway{}, media, hub, 0, l)),
			Conversation: handler.NewConversationHandler(services.NewConversationService(convs, msgs, outboxes, hub, l)),
			Media:        handler.NewMediaHandler(media),
			Realtime: websocket.NewHandler(auth, hub, websocket.NewConversationAuthorizer(convs, false),
				websocket.HandlerConfig{}, websocket.NewLogger(l)),
		}, auth, server.Limiters{}, func(ctx context.Context) error { return healthy })
	})

	It("answers ping", func() {
		rec := do(http.MethodGet, "/ping", "")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("pong"))
	})

	It("reports unhealthy dependencies", func() {
		Expect(do(http.MethodGet, "/health", "").Code).To(Equal(http.StatusOK))
		healthy = errors.New("db down")
		Expect(do(http.MethodGet, "/health", "").Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("restricts closing conversations to admins", func() {
		token, _, err := auth.IssueAccessToken(services.Subject{UserID: "u1", Role: services.RoleClientUser})
		Expect(err).NotTo(HaveOccurred())
		rec := do(http.MethodDelete, "/v1/conversations/6f1c1d3e-0000-4000-8000-000000000000", token)
		Expect(rec.Code).To(Equal(http.StatusForbidden))
	})

	It("reports media presign as unavailable without storage", func() {
		token, _, err := auth.IssueAccessToken(services.Subject{UserID: "u1", Role: services.RoleAdmin})
		Expect(err).NotTo(HaveOccurred())
		body := `{"file_name":"a.png","content_type":"image/png","file_size":10}`
		req := httptest.NewRequest(http.MethodPost, "/v1/media/presign", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		srv.Engine().ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})
})
