package storage

import (
	"anonchat/backend/internal/models"
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// --- Identities ---

func (s *Service) CreateIdentity(ctx context.Context, identity *models.Identity) error {
	err := s.DB.WithContext(ctx).Create(identity).Error
	if err != nil && isUniqueViolation(err) {
		return models.ErrConflict
	}
	return translate(err)
}

func (s *Service) GetIdentity(ctx context.Context, id string) (*models.Identity, error) {
	var identity models.Identity
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&identity).Error; err != nil {
		return nil, translate(err)
	}
	return &identity, nil
}

func (s *Service) TouchIdentity(ctx context.Context, id string, at time.Time) error {
	res := s.DB.WithContext(ctx).
		Model(&models.Identity{}).
		Where("id = ?", id).
		Update("last_seen_at", at)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Service) UpdateIdentityProfile(ctx context.Context, id, displayName, bio string) error {
	res := s.DB.WithContext(ctx).
		Model(&models.Identity{}).
		Where("id = ?", id).
		Updates(map[string]any{"display_name": displayName, "bio": bio})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// --- Rooms ---

func (s *Service) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	var room models.Room
	if err := s.DB.WithContext(ctx).Where("room_id = ?", roomID).First(&room).Error; err != nil {
		return nil, translate(err)
	}
	return &room, nil
}

func (s *Service) CreateRoomIfAbsent(ctx context.Context, room *models.Room) (bool, error) {
	res := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}},
			DoNothing: true,
		}).
		Create(room)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// --- Chat list ---

var chatListKey = []clause.Column{{Name: "owner_id"}, {Name: "room_id"}}

func (s *Service) EnsureChatListEntries(ctx context.Context, entries []models.ChatListEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: chatListKey, DoNothing: true}).
		Create(&entries).Error
	return translate(err)
}

func (s *Service) CountChatListEntries(ctx context.Context, roomID string) (int64, error) {
	var count int64
	err := s.DB.WithContext(ctx).
		Model(&models.ChatListEntry{}).
		Where("room_id = ?", roomID).
		Count(&count).Error
	return count, translate(err)
}

func (s *Service) GetChatListEntry(ctx context.Context, ownerID, roomID string) (*models.ChatListEntry, error) {
	var entry models.ChatListEntry
	err := s.DB.WithContext(ctx).
		Where("owner_id = ? AND room_id = ?", ownerID, roomID).
		First(&entry).Error
	if err != nil {
		return nil, translate(err)
	}
	return &entry, nil
}

func (s *Service) ListChatListEntries(ctx context.Context, ownerID string) ([]models.ChatListEntry, error) {
	var entries []models.ChatListEntry
	err := s.DB.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("updated_at DESC").
		Order("room_created_at ASC").
		Order("room_id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, translate(err)
	}
	return entries, nil
}

func (s *Service) MarkChatListSeen(ctx context.Context, ownerID, roomID string) error {
	res := s.DB.WithContext(ctx).
		Model(&models.ChatListEntry{}).
		Where("owner_id = ? AND room_id = ?", ownerID, roomID).
		Update("seen", true)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Service) DeleteChatListEntry(ctx context.Context, ownerID, roomID string) error {
	res := s.DB.WithContext(ctx).
		Where("owner_id = ? AND room_id = ?", ownerID, roomID).
		Delete(&models.ChatListEntry{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// --- Aliases ---

func (s *Service) GetAlias(ctx context.Context, roomID, counterpartID string) (*models.Alias, error) {
	var alias models.Alias
	err := s.DB.WithContext(ctx).
		Where("room_id = ? AND counterpart_id = ?", roomID, counterpartID).
		First(&alias).Error
	if err != nil {
		return nil, translate(err)
	}
	return &alias, nil
}

func (s *Service) PutAliasIfAbsent(ctx context.Context, alias *models.Alias) (*models.Alias, error) {
	// Only the (room, counterpart) key is absorbed here. A clash on the
	// pseudonym index still surfaces as an error.
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "counterpart_id"}},
			DoNothing: true,
		}).
		Create(alias).Error
	if err != nil {
		if isUniqueViolation(err) {
			return nil, models.ErrConflict
		}
		return nil, translate(err)
	}
	return s.GetAlias(ctx, alias.RoomID, alias.CounterpartID)
}

func (s *Service) ListAliases(ctx context.Context, roomID string) ([]models.Alias, error) {
	var aliases []models.Alias
	err := s.DB.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Find(&aliases).Error
	if err != nil {
		return nil, translate(err)
	}
	return aliases, nil
}

// --- Messages ---

func (s *Service) AppendMessage(ctx context.Context, msg *models.Message, project Projection) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room models.Room
		// The row lock serialises appends per room; seq and the clamp below
		// depend on it.
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ?", msg.RoomID).
			First(&room).Error
		if err != nil {
			return err
		}

		if msg.CreatedAt.Before(room.LastMessageAt) {
			msg.CreatedAt = room.LastMessageAt
		}
		msg.Seq = room.LastSeq + 1

		err = tx.Model(&models.Room{}).
			Where("room_id = ?", room.RoomID).
			Updates(map[string]any{
				"last_seq":        msg.Seq,
				"last_message_at": msg.CreatedAt,
			}).Error
		if err != nil {
			return err
		}
		room.LastSeq = msg.Seq
		room.LastMessageAt = msg.CreatedAt

		if err := tx.Create(msg).Error; err != nil {
			return err
		}

		if project == nil {
			return nil
		}
		entries := project(&room, msg)
		if len(entries) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   chatListKey,
			DoUpdates: clause.AssignmentColumns([]string{"last_message_preview", "updated_at", "seen"}),
		}).Create(&entries).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ErrNotFound
	}
	return translate(err)
}

func (s *Service) ListMessages(ctx context.Context, roomID string, afterSeq int64, limit int) ([]models.Message, error) {
	var messages []models.Message
	q := s.DB.WithContext(ctx).
		Where("room_id = ? AND seq > ?", roomID, afterSeq).
		Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&messages).Error; err != nil {
		return nil, translate(err)
	}
	return messages, nil
}

func (s *Service) ListMedia(ctx context.Context, roomID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.DB.WithContext(ctx).
		Where("room_id = ? AND image_ref <> ''", roomID).
		Order("seq ASC").
		Find(&messages).Error
	if err != nil {
		return nil, translate(err)
	}
	return messages, nil
}

// --- Invites ---

func (s *Service) CreateInvite(ctx context.Context, token *models.InviteToken) error {
	err := s.DB.WithContext(ctx).Create(token).Error
	if err != nil && isUniqueViolation(err) {
		return models.ErrConflict
	}
	return translate(err)
}

func (s *Service) GetInvite(ctx context.Context, tokenID string) (*models.InviteToken, error) {
	var token models.InviteToken
	if err := s.DB.WithContext(ctx).Where("token_id = ?", tokenID).First(&token).Error; err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

func (s *Service) ClaimInvite(ctx context.Context, tokenID string, at time.Time) error {
	res := s.DB.WithContext(ctx).
		Model(&models.InviteToken{}).
		Where("token_id = ? AND redeemed_at IS NULL", tokenID).
		Update("redeemed_at", at)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := s.GetInvite(ctx, tokenID); err != nil {
		return err
	}
	return models.ErrConflict
}

func (s *Service) ReleaseInvite(ctx context.Context, tokenID string) error {
	res := s.DB.WithContext(ctx).
		Model(&models.InviteToken{}).
		Where("token_id = ?", tokenID).
		Update("redeemed_at", nil)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Service) DeleteExpiredInvites(ctx context.Context, now time.Time) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.InviteToken{})
	return res.RowsAffected, translate(res.Error)
}
