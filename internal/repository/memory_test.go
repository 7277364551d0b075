package repository_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaydesk/internal/domain/conversation"
	"relaydesk/internal/domain/message"
	"relaydesk/internal/domain/outbox"
	"relaydesk/internal/repository"
	desk_errors "relaydesk/pkg/errors"
)

func strPtr(s string) *string { return &s }

var _ = Describe("MemoryConversationRepository", func() {
	var (
		ctx  context.Context
		repo *repository.MemoryConversationRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = repository.NewMemoryConversationRepository()
	})

	It("creates a conversation once per contact under concurrency", func() {
		const workers = 32
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			ids     = map[uuid.UUID]struct{}{}
			created int
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				c, wasCreated, err := repo.FindOrCreate(ctx, conversation.Conversation{
					CustomerContact: "+15550001",
					CustomerName:    "Ada",
				})
				Expect(err).NotTo(HaveOccurred())
				mu.Lock()
				ids[c.ID] = struct{}{}
				if wasCreated {
					created++
				}
				mu.Unlock()
			}()
		}
		wg.Wait()

		Expect(ids).To(HaveLen(1))
		Expect(created).To(Equal(1))

		_, total, err := repo.List(ctx, conversation.ListFilter{})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(BeEquivalentTo(1))
	})

	It("rejects an empty contact", func() {
		_, _, err := repo.FindOrCreate(ctx, conversation.Conversation{})
		Expect(err).To(MatchError(desk_errors.ErrInvalidInput))
	})

	It("returns not found for an unknown contact", func() {
		_, err := repo.FindByContact(ctx, "+19999")
		Expect(err).To(MatchError(desk_errors.ErrNotFound))
	})

	It("reopens a closed conversation on activity", func() {
		c, _, err := repo.FindOrCreate(ctx, conversation.Conversation{CustomerContact: "+1555"})
		Expect(err).NotTo(HaveOccurred())

		closed := conversation.StatusClosed
		_, err = repo.UpdateFields(ctx, c.ID, conversation.Patch{Status: &closed})
		Expect(err).NotTo(HaveOccurred())

		at := time.Now().Add(time.Minute).UTC()
		touched, err := repo.TouchActivity(ctx, c.ID, at)
		Expect(err).NotTo(HaveOccurred())
		Expect(touched.Status).To(Equal(conversation.StatusOpen))
		Expect(touched.LastMessageAt).To(BeTemporally("==", at))
	})

	It("leaves non-closed statuses alone on activity", func() {
		c, _, _ := repo.FindOrCreate(ctx, conversation.Conversation{CustomerContact: "+1556"})
		resolved := conversation.StatusResolved
		_, err := repo.UpdateFields(ctx, c.ID, conversation.Patch{Status: &resolved})
		Expect(err).NotTo(HaveOccurred())

		touched, err := repo.TouchActivity(ctx, c.ID, time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(touched.Status).To(Equal(conversation.StatusResolved))
	})

	It("rejects a stale expected version", func() {
		c, _, _ := repo.FindOrCreate(ctx, conversation.Conversation{CustomerContact: "+1557"})
		notes := "vip"
		updated, err := repo.UpdateFields(ctx, c.ID, conversation.Patch{Notes: &notes, ExpectedVersion: &c.Version})
		Expect(err).NotTo(HaveOccurred())
		Expect(updated.Version).To(Equal(c.Version + 1))

		_, err = repo.UpdateFields(ctx, c.ID, conversation.Patch{Notes: &notes, ExpectedVersion: &c.Version})
		Expect(err).To(MatchError(desk_errors.ErrConflict))
	})

	It("rejects an invalid status", func() {
		c, _, _ := repo.FindOrCreate(ctx, conversation.Conversation{CustomerContact: "+1558"})
		bogus := conversation.Status("archived")
		_, err := repo.UpdateFields(ctx, c.ID, conversation.Patch{Status: &bogus})
		Expect(err).To(MatchError(desk_errors.ErrInvalidInput))
	})

	It("lists by assignee ordered by latest activity", func() {
		older, _, _ := repo.FindOrCreate(ctx, conversation.Conversation{CustomerContact: "+1", AssignedTo: strPtr("agent-1")})
		newer, _, _ := repo.FindOrCreate(ctx, conversation.Conversation{CustomerContact: "+2", AssignedTo: strPtr("agent-1")})
		_, _, _ = repo.FindOrCreate(ctx, conversation.Conversation{CustomerContact: "+3", AssignedTo: strPtr("agent-2")})

		_, err := repo.TouchActivity(ctx, older.ID, time.Now().Add(-time.Hour))
		Expect(err).NotTo(HaveOccurred())
		_, err = repo.TouchActivity(ctx, newer.ID, time.Now().Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())

		list, total, err := repo.List(ctx, conversation.ListFilter{AssignedTo: "agent-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(BeEquivalentTo(2))
		Expect(list[0].ID).To(Equal(newer.ID))
		Expect(list[1].ID).To(Equal(older.ID))
	})
})

var _ = Describe("MemoryMessageRepository", func() {
	var (
		ctx    context.Context
		repo   *repository.MemoryMessageRepository
		convID uuid.UUID
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = repository.NewMemoryMessageRepository()
		convID = uuid.New()
	})

	appendSent := func(providerID string) message.Message {
		m := &message.Message{
			ConversationID:    convID,
			SenderID:          "agent-1",
			RecipientID:       "+1555",
			Content:           "hello",
			Kind:              message.KindText,
			Status:            message.StatusSent,
			ProviderMessageID: strPtr(providerID),
		}
		Expect(repo.Append(ctx, m)).To(Succeed())
		return *m
	}

	It("is idempotent when the same status is applied twice", func() {
		m := appendSent("wamid.1")

		matched, err := repo.UpdateStatusByProviderID(ctx, "wamid.1", message.StatusDelivered)
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeTrue())
		first, _ := repo.GetByID(ctx, m.ID)

		matched, err = repo.UpdateStatusByProviderID(ctx, "wamid.1", message.StatusDelivered)
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeTrue())
		second, _ := repo.GetByID(ctx, m.ID)

		Expect(second.Status).To(Equal(first.Status))
		Expect(second.Status).To(Equal(message.StatusDelivered))
	})

	It("keeps the last applied status when receipts arrive out of order", func() {
		m := appendSent("wamid.2")
		_, err := repo.UpdateStatusByProviderID(ctx, "wamid.2", message.StatusRead)
		Expect(err).NotTo(HaveOccurred())
		_, err = repo.UpdateStatusByProviderID(ctx, "wamid.2", message.StatusDelivered)
		Expect(err).NotTo(HaveOccurred())

		got, err := repo.GetByID(ctx, m.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Status).To(Equal(message.StatusDelivered))
	})

	It("ignores an unknown provider id", func() {
		appendSent("wamid.3")
		matched, err := repo.UpdateStatusByProviderID(ctx, "wamid.unknown", message.StatusRead)
		Expect(err).NotTo(HaveOccurred())
		Expect(matched).To(BeFalse())

		list, err := repo.ListByConversation(ctx, convID, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(1))
		Expect(list[0].Status).To(Equal(message.StatusSent))
	})

	It("rejects a duplicate provider id but not duplicate content", func() {
		appendSent("wamid.4")
		dup := &message.Message{ConversationID: convID, Content: "hello", ProviderMessageID: strPtr("wamid.4")}
		Expect(repo.Append(ctx, dup)).To(MatchError(desk_errors.ErrAlreadyExists))

		same := &message.Message{ConversationID: convID, Content: "hello", Kind: message.KindText, Status: message.StatusSent}
		Expect(repo.Append(ctx, same)).To(Succeed())
		again := &message.Message{ConversationID: convID, Content: "hello", Kind: message.KindText, Status: message.StatusSent}
		Expect(repo.Append(ctx, again)).To(Succeed())
	})

	It("lists oldest first and honours the limit", func() {
		appendSent("a")
		appendSent("b")
		appendSent("c")
		Expect(repo.Append(ctx, &message.Message{ConversationID: uuid.New(), Content: "other"})).To(Succeed())

		list, err := repo.ListByConversation(ctx, convID, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))
		Expect(*list[0].ProviderMessageID).To(Equal("a"))
		Expect(*list[1].ProviderMessageID).To(Equal("b"))
	})
})

var _ = Describe("MemoryOutboxRepository", func() {
	It("cycles events through pending, retry and completion", func() {
		ctx := context.Background()
		repo := repository.NewMemoryOutboxRepository()
		e := &outbox.Event{EventType: "chat.inbound.v1", AggregateType: "message", AggregateID: "1", Payload: []byte(`{}`)}
		Expect(repo.Create(ctx, e)).To(Succeed())

		pending, err := repo.GetPending(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(pending).To(HaveLen(1))

		Expect(repo.MarkProcessing(ctx, e.ID)).To(Succeed())
		pending, _ = repo.GetPending(ctx, 10)
		Expect(pending).To(BeEmpty())

		Expect(repo.IncrementRetry(ctx, e.ID)).To(Succeed())
		pending, _ = repo.GetPending(ctx, 10)
		Expect(pending).To(HaveLen(1))
		Expect(pending[0].RetryCount).To(Equal(1))

		Expect(repo.MarkCompleted(ctx, e.ID)).To(Succeed())
		Expect(repo.Events()[0].Status).To(Equal(outbox.StatusCompleted))
		Expect(repo.Events()[0].ProcessedAt).NotTo(BeNil())
	})
})
