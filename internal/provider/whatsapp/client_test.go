package whatsapp_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaydesk/config"
	"relaydesk/internal/provider/whatsapp"
	"relaydesk/pkg/logger"
)

var _ = Describe("Client", func() {
	var (
		server   *httptest.Server
		handler  http.HandlerFunc
		client   *whatsapp.Client
		received map[string]interface{}
		path     string
		auth     string
	)

	BeforeEach(func() {
		received = nil
		handler = func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			auth = r.Header.Get("Authorization")
			_ = json.NewDecoder(r.Body).Decode(&received)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"messaging_product":"whatsapp","contacts":[{"input":"+1555","wa_id":"1555"}],"messages":[{"id":"wamid.OK"}]}`))
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { handler(w, r) }))
		client = whatsapp.NewClient(&config.Config{
			WhatsAppAPIURL:        server.URL + "/v18.0/",
			WhatsAppPhoneNumberID: "12345",
			WhatsAppAccessToken:   "token-abc",
			ProviderTimeout:       time.Second,
		}, logger.NewNop())
	})

	AfterEach(func() {
		server.Close()
	})

	It("posts a text message and returns the provider id", func() {
		res := client.Send(context.Background(), whatsapp.OutboundMessage{To: "+1555", Kind: "text", Text: "hello"})

		Expect(res.OK()).To(BeTrue())
		Expect(res.MessageID).To(Equal("wamid.OK"))
		Expect(path).To(Equal("/v18.0/12345/messages"))
		Expect(auth).To(Equal("Bearer token-abc"))
		Expect(received).To(HaveKeyWithValue("messaging_product", "whatsapp"))
		Expect(received).To(HaveKeyWithValue("recipient_type", "individual"))
		Expect(received).To(HaveKeyWithValue("type", "text"))
		Expect(received["text"]).To(HaveKeyWithValue("body", "hello"))
	})

	It("shapes template and document messages", func() {
		res := client.Send(context.Background(), whatsapp.OutboundMessage{To: "+1555", Kind: "template", TemplateName: "welcome"})
		Expect(res.OK()).To(BeTrue())
		Expect(received["template"]).To(HaveKeyWithValue("name", "welcome"))
		Expect(received["template"].(map[string]interface{})["language"]).To(HaveKeyWithValue("code", "en"))

		res = client.Send(context.Background(), whatsapp.OutboundMessage{To: "+1555", Kind: "document", MediaURL: "https://cdn/x.pdf", FileName: "x.pdf"})
		Expect(res.OK()).To(BeTrue())
		Expect(received["document"]).To(HaveKeyWithValue("link", "https://cdn/x.pdf"))
		Expect(received["document"]).To(HaveKeyWithValue("filename", "x.pdf"))
	})

	It("reports a rejection with the provider reason", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Recipient phone number not in allowed list","code":131030}}`))
		}

		res := client.Send(context.Background(), whatsapp.OutboundMessage{To: "+1555", Text: "hi"})

		Expect(res.OK()).To(BeFalse())
		Expect(res.Err).To(MatchError(whatsapp.ErrRejected))
		Expect(res.FailureReason()).To(ContainSubstring("not in allowed list"))
	})

	It("treats a slow provider as a timeout failure", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		res := client.Send(ctx, whatsapp.OutboundMessage{To: "+1555", Text: "hi"})

		Expect(res.OK()).To(BeFalse())
		Expect(res.Err).To(MatchError(whatsapp.ErrTimeout))
	})

	It("refuses unsupported kinds without calling the provider", func() {
		res := client.Send(context.Background(), whatsapp.OutboundMessage{To: "+1555", Kind: "sticker"})
		Expect(res.Err).To(MatchError(whatsapp.ErrUnsupported))
		Expect(received).To(BeNil())
	})
})
