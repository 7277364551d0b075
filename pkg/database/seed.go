package database

import (
	"context"
	"fmt"
	"time"

	"relaydesk/internal/domain/conversation"
	"relaydesk/internal/domain/message"
	"relaydesk/internal/repository"
	"relaydesk/pkg/logger"

	"github.com/google/uuid"
)

// SeedConfig holds configuration for seeding development data
type SeedConfig struct {
	Customers               int
	MessagesPerConversation int
	AssignTo                string
}

func DefaultSeedConfig() *SeedConfig {
	return &SeedConfig{
		Customers:               5,
		MessagesPerConversation: 6,
		AssignTo:                "",
	}
}

type SeedResult struct {
	Conversations []conversation.Conversation
	Messages      []message.Message
}

var seedCustomers = []string{"Amara Obi", "Bruno Costa", "Chen Wei", "Dana Levi", "Emil Novak", "Farah Haddad", "Gita Rao"}

var seedStatuses = []conversation.Status{
	conversation.StatusOpen,
	conversation.StatusInProgress,
	conversation.StatusResolved,
	conversation.StatusClosed,
}

// SeedDevelopment creates sample customer conversations with alternating
// inbound and outbound traffic. Contacts are stable, so re-running reuses
// the same conversations and only appends messages.
func SeedDevelopment(ctx context.Context, convs repository.ConversationRepository, msgs repository.MessageRepository, cfg *SeedConfig, l *logger.Logger) (*SeedResult, error) {
	if cfg == nil {
		cfg = DefaultSeedConfig()
	}
	result := &SeedResult{}
	base := time.Now().UTC().Add(-time.Duration(cfg.Customers*cfg.MessagesPerConversation) * time.Minute)

	for i := 0; i < cfg.Customers; i++ {
		name := seedCustomers[i%len(seedCustomers)]
		contact := fmt.Sprintf("1555010%04d", i)

		draft := conversation.Conversation{
			CustomerContact: contact,
			CustomerName:    name,
			Status:          conversation.StatusOpen,
		}
		if cfg.AssignTo != "" {
			assignee := cfg.AssignTo
			draft.AssignedTo = &assignee
		}
		conv, _, err := convs.FindOrCreate(ctx, draft)
		if err != nil {
			return nil, fmt.Errorf("seed conversation %s: %w", contact, err)
		}

		for j := 0; j < cfg.MessagesPerConversation; j++ {
			at := base.Add(time.Duration(i*cfg.MessagesPerConversation+j) * time.Minute)
			providerID := "wamid.seed." + uuid.NewString()
			m := message.Message{
				ConversationID:    conv.ID,
				Kind:              message.KindText,
				ProviderMessageID: &providerID,
				CreatedAt:         at,
			}
			if j%2 == 0 {
				m.SenderID = contact
				m.RecipientID = message.RecipientSystem
				m.Content = fmt.Sprintf("Hi, this is %s (%d)", name, j+1)
				m.Status = message.StatusDelivered
			} else {
				m.SenderID = "seed-agent"
				m.RecipientID = contact
				m.Content = fmt.Sprintf("Thanks %s, we are on it (%d)", name, j+1)
				m.Status = message.StatusRead
			}
			if err := msgs.Append(ctx, &m); err != nil {
				return nil, fmt.Errorf("seed message: %w", err)
			}
			if conv, err = convs.TouchActivity(ctx, conv.ID, at); err != nil {
				return nil, fmt.Errorf("seed activity: %w", err)
			}
			result.Messages = append(result.Messages, m)
		}

		status := seedStatuses[i%len(seedStatuses)]
		if status != conversation.StatusOpen {
			if conv, err = convs.UpdateFields(ctx, conv.ID, conversation.Patch{Status: &status}); err != nil {
				return nil, fmt.Errorf("seed status: %w", err)
			}
		}
		result.Conversations = append(result.Conversations, conv)
	}

	if l != nil {
		l.Infof("Seeded %d conversations and %d messages", len(result.Conversations), len(result.Messages))
	}
	return result, nil
}
