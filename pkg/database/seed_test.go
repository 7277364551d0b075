package database_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"relaydesk/internal/domain/conversation"
	"relaydesk/internal/repository"
	"relaydesk/pkg/database"
)

var _ = Describe("SeedDevelopment", func() {
	It("creates conversations with ordered traffic and varied statuses", func() {
		ctx := context.Background()
		convs := repository.NewMemoryConversationRepository()
		msgs := repository.NewMemoryMessageRepository()

		res, err := database.SeedDevelopment(ctx, convs, msgs, &database.SeedConfig{
			Customers:               4,
			MessagesPerConversation: 3,
			AssignTo:                "agent-1",
		}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Conversations).To(HaveLen(4))
		Expect(res.Messages).To(HaveLen(12))

		items, total, err := convs.List(ctx, conversation.ListFilter{AssignedTo: "agent-1"})
		Expect(err).NotTo(HaveOccurred())
		Expect(total).To(Equal(int64(4)))

		var statuses []conversation.Status
		for _, c := range items {
			statuses = append(statuses, c.Status)
		}
		Expect(statuses).To(ContainElements(conversation.StatusOpen, conversation.StatusClosed))

		stored, err := msgs.ListByConversation(ctx, res.Conversations[0].ID, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored).To(HaveLen(3))
		Expect(stored[0].CreatedAt.Before(stored[2].CreatedAt)).To(BeTrue())
	})

	It("reuses conversations when run twice", func() {
		ctx := context.Background()
		convs := repository.NewMemoryConversationRepository()
		msgs := repository.NewMemoryMessageRepository()
		cfg := &database.SeedConfig{Customers: 2, MessagesPerConversation: 1}

		first, err := database.SeedDevelopment(ctx, convs, msgs, cfg, nil)
		Expect(err).NotTo(HaveOccurred())
		second, err := database.SeedDevelopment(ctx, convs, msgs, cfg, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(second.Conversations[0].ID).To(Equal(first.Conversations[0].ID))

		_, total, _ := convs.List(ctx, conversation.ListFilter{})
		Expect(total).To(Equal(int64(2)))
	})
})
