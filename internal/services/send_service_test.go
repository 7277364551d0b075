package services_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaydesk/internal/domain/conversation"
	"relaydesk/internal/domain/message"
	"relaydesk/internal/events"
	"relaydesk/internal/provider/whatsapp"
	"relaydesk/internal/repository"
	"relaydesk/internal/services"
	desk_errors "relaydesk/pkg/errors"
	"relaydesk/pkg/logger"
)

var _ = Describe("SendService", func() {
	var (
		ctx      context.Context
		convs    *repository.MemoryConversationRepository
		msgs     *repository.MemoryMessageRepository
		outboxes *repository.MemoryOutboxRepository
		notifier *recordingNotifier
		gateway  *fakeGateway
		store    *fakeMediaStore
		svc      *services.SendService
		agent    services.Subject
	)

	BeforeEach(func() {
		ctx = context.Background()
		convs = repository.NewMemoryConversationRepository()
		msgs = repository.NewMemoryMessageRepository()
		outboxes = repository.NewMemoryOutboxRepository()
		notifier = &recordingNotifier{}
		gateway = &fakeGateway{result: whatsapp.SendResult{MessageID: "wamid.sent.1"}}
		store = &fakeMediaStore{}
		svc = services.NewSendService(convs, msgs, outboxes, gateway, services.NewMediaService(store), notifier, 0, logger.NewNop())
		agent = services.Subject{UserID: "agent-1", Role: services.RoleClientUser}
	})

	It("sends text and records a sent message", func() {
		res, err := svc.Send(ctx, agent, services.SendInput{To: "15550100", Content: "hello"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Message.Status).To(Equal(message.StatusSent))
		Expect(*res.Message.ProviderMessageID).To(Equal("wamid.sent.1"))
		Expect(res.Message.SenderID).To(Equal("agent-1"))
		Expect(res.Conversation.CustomerContact).To(Equal("15550100"))
		Expect(*res.Conversation.AssignedTo).To(Equal("agent-1"))

		Expect(gateway.sent).To(HaveLen(1))
		Expect(gateway.sent[0].Text).To(Equal("hello"))

		news := notifier.named(events.RealtimeMessageNew)
		Expect(news).To(HaveLen(1))
		Expect(news[0].Room).To(Equal(events.ConversationRoom(res.Conversation.ID)))

		var rooms []string
		for _, p := range notifier.named(events.RealtimeConversationUpdated) {
			rooms = append(rooms, p.Room)
		}
		Expect(rooms).To(ContainElement(events.UserRoom("agent-1")))
	})

	It("records a failed message when the provider rejects the send", func() {
		gateway.result = whatsapp.SendResult{Err: errors.New("recipient not on whatsapp")}
		res, err := svc.Send(ctx, agent, services.SendInput{To: "15550101", Content: "hello"})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Message.Status).To(Equal(message.StatusFailed))
		Expect(res.Message.ProviderMessageID).To(BeNil())
		Expect(res.Message.Metadata.FailureReason).To(ContainSubstring("recipient not on whatsapp"))

		stored, err := msgs.GetByID(ctx, res.Message.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.Status).To(Equal(message.StatusFailed))

		var outbound int
		for _, e := range outboxes.Events() {
			if e.EventType == events.EventTypeChatOutbound {
				outbound++
			}
		}
		Expect(outbound).To(Equal(1))
	})

	It("reuses the conversation and reopens it when closed", func() {
		first, err := svc.Send(ctx, agent, services.SendInput{To: "15550102", Content: "one"})
		Expect(err).NotTo(HaveOccurred())
		closed := conversation.StatusClosed
		_, err = convs.UpdateFields(ctx, first.Conversation.ID, conversation.Patch{Status: &closed})
		Expect(err).NotTo(HaveOccurred())

		second, err := svc.Send(ctx, agent, services.SendInput{To: "15550102", Content: "two"})
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Conversation.ID).To(Equal(first.Conversation.ID))
		Expect(second.Conversation.Status).To(Equal(conversation.StatusOpen))
	})

	It("resolves media links before sending documents", func() {
		res, err := svc.Send(ctx, agent, services.SendInput{
			To:       "15550103",
			Kind:     "document",
			Content:  "Your invoice",
			MediaKey: "media/agent-1/abc.pdf",
			FileName: "abc.pdf",
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Message.Kind).To(Equal(message.KindDocument))
		Expect(res.Message.Content).To(Equal("Your invoice"))
		Expect(gateway.sent[0].MediaURL).To(Equal("https://cdn.test/media/agent-1/abc.pdf"))
	})

	It("records the message when the caller goes away mid-send", func() {
		reqCtx, cancelReq := context.WithCancel(ctx)
		defer cancelReq()
		gateway.onSend = cancelReq
		svc = services.NewSendService(convs, ctxMessageRepository{msgs}, outboxes, gateway, services.NewMediaService(store), notifier, 0, logger.NewNop())

		res, err := svc.Send(reqCtx, agent, services.SendInput{To: "15550105", Content: "hello"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reqCtx.Err()).To(MatchError(context.Canceled))
		Expect(res.Message.Status).To(Equal(message.StatusSent))

		stored, err := msgs.GetByID(ctx, res.Message.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(*stored.ProviderMessageID).To(Equal("wamid.sent.1"))
	})

	It("writes the message and its events through one transaction", func() {
		txMsgs := repository.NewMemoryMessageRepository()
		txOutbox := repository.NewMemoryOutboxRepository()
		tx := &recordingTransactor{stores: repository.Stores{Conversations: convs, Messages: txMsgs, Outbox: txOutbox}}
		svc.WithTransactor(tx)

		res, err := svc.Send(ctx, agent, services.SendInput{To: "15550106", Content: "hello"})
		Expect(err).NotTo(HaveOccurred())
		Expect(tx.calls).To(Equal(1))

		_, err = txMsgs.GetByID(ctx, res.Message.ID)
		Expect(err).NotTo(HaveOccurred())
		_, err = msgs.GetByID(ctx, res.Message.ID)
		Expect(errors.Is(err, desk_errors.ErrNotFound)).To(BeTrue())

		var types []string
		for _, e := range txOutbox.Events() {
			types = append(types, e.EventType)
		}
		Expect(types).To(ConsistOf(events.EventTypeChatOutbound, events.EventTypeConversationUpdated))
		Expect(outboxes.Events()).To(BeEmpty())
	})

	It("fails the send and stays silent when the commit fails", func() {
		svc.WithTransactor(&recordingTransactor{
			stores:    repository.Stores{Conversations: convs, Messages: msgs, Outbox: outboxes},
			commitErr: errStoreDown,
		})
		_, err := svc.Send(ctx, agent, services.SendInput{To: "15550107", Content: "hello"})
		Expect(err).To(MatchError(errStoreDown))
		Expect(notifier.named(events.RealtimeMessageNew)).To(BeEmpty())
	})

	DescribeTable("rejects invalid input without contacting the provider",
		func(in services.SendInput) {
			_, err := svc.Send(ctx, agent, in)
			Expect(errors.Is(err, desk_errors.ErrInvalidInput)).To(BeTrue())
			Expect(gateway.sent).To(BeEmpty())
		},
		Entry("missing recipient", services.SendInput{Content: "hi"}),
		Entry("missing content", services.SendInput{To: "15550104"}),
		Entry("unknown kind", services.SendInput{To: "15550104", Content: "hi", Kind: "sticker"}),
		Entry("blank content", services.SendInput{To: "15550104", Content: "   "}),
		Entry("image without media key", services.SendInput{To: "15550104", Content: "photo", Kind: "image"}),
		Entry("template without name", services.SendInput{To: "15550104", Content: "hi", Kind: "template"}),
		Entry("template without content", services.SendInput{To: "15550104", Kind: "template", TemplateName: "welcome"}),
		Entry("document without content", services.SendInput{To: "15550104", Kind: "document", MediaKey: "media/agent-1/abc.pdf", FileName: "abc.pdf"}),
		Entry("media key outside the media prefix", services.SendInput{To: "15550104", Content: "photo", Kind: "image", MediaKey: "../etc/passwd"}),
	)
})
