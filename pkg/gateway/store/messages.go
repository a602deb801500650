package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type NewMessage struct {
	ConversationID string
	Role           string
	Content        string
	MessageType    string
}

// AddMessage appends a message using the next gap-free sequence number for
// its conversation. The read of MAX(sequence_number) and the insert share one
// transaction; the unique (conversation_id, sequence_number) index rejects
// any concurrent writer that read the same maximum.
func (s *Store) AddMessage(ctx context.Context, in NewMessage) (Message, error) {
	if strings.TrimSpace(in.Content) == "" {
		return Message{}, ErrEmptyContent
	}
	if in.MessageType == "" {
		in.MessageType = MessageTypeConversation
	}

	var out Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&Message{}).
			Where("conversation_id = ?", in.ConversationID).
			Select("COALESCE(MAX(sequence_number), 0)").
			Scan(&maxSeq).Error; err != nil {
			return fmt.Errorf("sequence lookup: %w", err)
		}

		now := s.now()
		row := Message{
			ID:             uuid.NewString(),
			ConversationID: in.ConversationID,
			Role:           in.Role,
			Content:        in.Content,
			SequenceNumber: maxSeq + 1,
			MessageType:    in.MessageType,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create message: %w", err)
		}
		out = row
		return nil
	})
	if err != nil {
		return Message{}, err
	}
	return out, nil
}

func (s *Store) AttachAudio(ctx context.Context, messageID, path string) error {
	res := s.db.WithContext(ctx).Model(&Message{}).
		Where("id = ?", messageID).
		Updates(map[string]any{"audio_file_path": path, "updated_at": s.now()})
	if res.Error != nil {
		return fmt.Errorf("attach audio: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, conversationID, messageID string) (Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).
		Where("id = ? AND conversation_id = ?", messageID, conversationID).
		Take(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Message{}, ErrNotFound
		}
		return Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListMessages returns the conversation transcript in sequence order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var rows []Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sequence_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return rows, nil
}
