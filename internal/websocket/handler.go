package websocket

import (
	"net/http"
	"strings"
	"time"

	"relaydesk/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// CloseAuthenticationFailed is sent when the connection credential does not verify.
const CloseAuthenticationFailed = 4401

const bearerProtocol = "bearer"

// TokenVerifier checks a connection credential.
type TokenVerifier interface {
	Verify(token string) (services.Subject, error)
}

type HandlerConfig struct {
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

type Handler struct {
	verifier   TokenVerifier
	hub        *Hub
	authorizer Authorizer
	idle       time.Duration
	upgrader   websocket.Upgrader
	log        *Logger
}

func NewHandler(verifier TokenVerifier, hub *Hub, authorizer Authorizer, cfg HandlerConfig, log *Logger) *Handler {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if log == nil {
		log = NewLogger(nil)
	}
	return &Handler{
		verifier:   verifier,
		hub:        hub,
		authorizer: authorizer,
		idle:       cfg.IdleTimeout,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{bearerProtocol},
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Connect upgrades first and authenticates on the open transport, so a bad
// credential is reported with a close code rather than an HTTP status.
func (h *Handler) Connect(c *gin.Context) {
	token := extractToken(c.Request)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("upgrade_failed", "", "", err)
		return
	}

	client := newClient(h.hub, conn, h.authorizer, h.idle, h.log)
	client.setState(StateAuthenticating)

	subject, err := h.verifier.Verify(token)
	if err != nil {
		h.rejectConnection(client, err)
		return
	}
	client.Subject = subject

	if err := h.hub.Register(client); err != nil {
		client.setState(StateClosed)
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	client.setState(StateOpen)
	h.log.Info("connected", subject.UserID, client.ID, zap.String("role", string(subject.Role)))

	go client.writePump()
	client.readPump(c.Request.Context())
}

func (h *Handler) rejectConnection(client *Client, err error) {
	client.setState(StateClosed)
	h.log.Warn("authentication_failed", "", client.ID, zap.Error(err))
	client.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(CloseAuthenticationFailed, "authentication error"),
		time.Now().Add(writeWait))
	client.conn.Close()
}

// extractToken reads the credential from the query string, a bearer
// Authorization header, or a "bearer, <token>" subprotocol list.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	protocols := websocket.Subprotocols(r)
	if len(protocols) >= 2 && strings.EqualFold(protocols[0], bearerProtocol) {
		return protocols[1]
	}
	return ""
}
