package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/Ihnore-Ihor/PI-CMS/internal/auth"
	"github.com/Ihnore-Ihor/PI-CMS/internal/models"
	"github.com/Ihnore-Ihor/PI-CMS/internal/protocol"
	"github.com/Ihnore-Ihor/PI-CMS/internal/repositories"
)

const (
	defaultFirstName = "Unknown"
	defaultLastName  = "User"
	defaultAvatar    = "assets/user.png"
)

func (s *Session) handleAuthenticate(ctx context.Context, data json.RawMessage) {
	// A duplicate authenticate after success is ignored, not an error, so
	// reconnect races cannot double-write the presence directory.
	if s.State() == StateAuthenticated {
		return
	}

	var req protocol.AuthRequest
	if len(data) == 0 || json.Unmarshal(data, &req) != nil || req.Token == "" {
		s.sendEvent(protocol.EventAuthenticationError, "Invalid authentication data: token missing")
		return
	}

	claims, err := s.deps.Verifier.Verify(req.Token)
	if err != nil {
		// An expired credential means the client can no longer prove
		// liveness for the claimed identity: downgrade its presence once.
		if errors.Is(err, auth.ErrCredentialExpired) && req.UserInfo.ID.String() != "" {
			if downgradeErr := s.deps.Users.MarkOfflineByExternalID(ctx, req.UserInfo.ID.String()); downgradeErr != nil {
				s.deps.Log.Error().Err(downgradeErr).Msg("presence downgrade on expired credential")
			}
		}
		s.sendEvent(protocol.EventAuthenticationError, err.Error())
		return
	}

	firstName := req.UserInfo.FirstName
	if firstName == "" {
		firstName = defaultFirstName
	}
	lastName := req.UserInfo.LastName
	if lastName == "" {
		lastName = defaultLastName
	}
	avatar := req.UserInfo.Avatar
	if avatar == "" {
		avatar = defaultAvatar
	}

	user, err := s.deps.Users.UpsertOnAuth(ctx, repositories.UpsertUserParams{
		ExternalID: claims.ExternalID,
		Username:   firstName + "_" + lastName,
		FirstName:  firstName,
		LastName:   lastName,
		Avatar:     avatar,
		SessionID:  s.id,
	})
	if err != nil {
		s.deps.Log.Error().Err(err).Str("session_id", s.id).Msg("presence upsert on authenticate")
		s.sendEvent(protocol.EventAuthenticationError, "Authentication failed")
		return
	}

	s.mu.Lock()
	s.state = StateAuthenticated
	s.user = user
	s.mu.Unlock()

	s.deps.Hub.Join(s, UserRoom(user.ExternalID))
	s.deps.Hub.BroadcastAllExcept(s, protocol.EventUserStatusChanged, statusChange(user))

	s.sendEvent(protocol.EventAuthenticated, protocol.Authenticated{
		UserID:    user.ID,
		MysqlID:   user.ExternalID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Avatar:    user.Avatar,
	})
}

func (s *Session) handleGetAllUserStatuses(ctx context.Context, _ json.RawMessage) {
	statuses, err := s.deps.Users.ListStatuses(ctx)
	if err != nil {
		s.internalError(ctx, err, "Failed to fetch user statuses")
		return
	}
	if statuses == nil {
		statuses = []models.UserStatus{}
	}
	s.sendEvent(protocol.EventAllUserStatuses, statuses)
}

func (s *Session) handleGetMyChats(ctx context.Context, _ json.RawMessage) {
	user := s.User()
	chats, err := s.deps.Chats.ListForUser(ctx, user.ID)
	if err != nil {
		s.internalError(ctx, err, "Failed to fetch chats")
		return
	}

	views := make([]models.ChatView, 0, len(chats))
	for _, chat := range chats {
		view, err := s.buildChatView(ctx, chat)
		if err != nil {
			s.internalError(ctx, err, "Failed to fetch chats")
			return
		}
		views = append(views, view)
		// Joining here means future pushes reach the session without an
		// explicit joinChat per chat.
		s.deps.Hub.Join(s, ChatRoom(chat.ID))
	}
	s.sendEvent(protocol.EventMyChats, views)
}

func (s *Session) handleCreateNewChat(ctx context.Context, data json.RawMessage) {
	var req protocol.CreateChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.operationError(ctx, "Invalid chat creation payload", "validation")
		return
	}
	// The size invariant holds on the set of distinct identities, so dedupe
	// before validating: a payload repeating one id is still a 1-party chat.
	unique := make([]protocol.ParticipantData, 0, len(req.ParticipantsData))
	seen := make(map[string]struct{}, len(req.ParticipantsData))
	for _, p := range req.ParticipantsData {
		externalID := p.ID.String()
		if externalID == "" {
			s.operationError(ctx, "Invalid chat creation payload", "validation")
			return
		}
		if _, dup := seen[externalID]; dup {
			continue
		}
		seen[externalID] = struct{}{}
		unique = append(unique, p)
	}
	if len(unique) < 2 {
		s.operationError(ctx, "A chat requires at least two participants.", "validation")
		return
	}

	user := s.User()
	participants := make([]models.User, 0, len(unique))
	for _, p := range unique {
		participant, err := s.deps.Users.EnsureParticipant(ctx, repositories.ParticipantSeed{
			ExternalID: p.ID.String(),
			Username:   p.Username,
			FirstName:  p.FirstName,
			LastName:   p.LastName,
			Avatar:     p.Avatar,
		})
		if err != nil {
			s.internalError(ctx, err, "Failed to create chat")
			return
		}
		participants = append(participants, participant)
	}

	var creator *models.User
	for i := range participants {
		if participants[i].ID == user.ID {
			creator = &participants[i]
			break
		}
	}
	if creator == nil {
		s.operationError(ctx, "Could not identify chat creator.", "validation")
		return
	}

	groupName := strings.TrimSpace(req.GroupName)
	isGroup := len(participants) > 2 || groupName != ""

	if !isGroup {
		var other models.User
		for _, p := range participants {
			if p.ID != user.ID {
				other = p
				break
			}
		}
		if other.ID == 0 {
			s.operationError(ctx, "A chat requires at least two participants.", "validation")
			return
		}
		existing, err := s.deps.Chats.FindDirectByPair(ctx, user.ID, other.ID)
		switch {
		case err == nil:
			view, viewErr := s.buildChatView(ctx, existing)
			if viewErr != nil {
				s.internalError(ctx, viewErr, "Failed to create chat")
				return
			}
			s.deps.Hub.Join(s, ChatRoom(existing.ID))
			s.sendEvent(protocol.EventChatAlreadyExists, view)
			return
		case !errors.Is(err, repositories.ErrChatNotFound):
			s.internalError(ctx, err, "Failed to create chat")
			return
		}
	}

	var name *string
	if groupName != "" {
		name = &groupName
	}

	participantIDs := make([]int, 0, len(participants))
	for _, p := range participants {
		participantIDs = append(participantIDs, p.ID)
	}

	chat, err := s.deps.Chats.Create(ctx, name, isGroup, user.ID, participantIDs)
	if err != nil {
		s.internalError(ctx, err, "Failed to create chat")
		return
	}
	view, err := s.buildChatView(ctx, chat)
	if err != nil {
		s.internalError(ctx, err, "Failed to create chat")
		return
	}

	s.deps.Hub.Join(s, ChatRoom(chat.ID))
	s.sendEvent(protocol.EventChatCreatedSuccessfully, view)
	for _, p := range participants {
		if p.ID == user.ID {
			continue
		}
		// Pushed to the private channel only: participants learn about the
		// chat, nobody else does.
		s.deps.Hub.Broadcast(UserRoom(p.ExternalID), protocol.EventNewChatCreated, view)
	}
}

func (s *Session) handleJoinChat(ctx context.Context, data json.RawMessage) {
	chatID, err := decodeChatID(data)
	if err != nil {
		s.operationError(ctx, "Invalid chat id", "validation")
		return
	}

	user := s.User()
	if _, err := s.deps.Chats.GetForUser(ctx, chatID, user.ID); err != nil {
		s.chatLookupError(ctx, err)
		return
	}
	s.deps.Hub.Join(s, ChatRoom(chatID))
}

func (s *Session) handleGetChatMessages(ctx context.Context, data json.RawMessage) {
	chatID, err := decodeChatID(data)
	if err != nil {
		s.operationError(ctx, "Invalid chat id", "validation")
		return
	}

	user := s.User()
	if _, err := s.deps.Chats.GetForUser(ctx, chatID, user.ID); err != nil {
		s.chatLookupError(ctx, err)
		return
	}

	messages, err := s.deps.Messages.ListForChat(ctx, chatID)
	if err != nil {
		s.internalError(ctx, err, "Failed to fetch messages")
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	s.sendEvent(protocol.EventChatMessages, protocol.ChatMessages{ChatID: chatID, Messages: messages})
}

func (s *Session) handleSendMessage(ctx context.Context, data json.RawMessage) {
	var req protocol.SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChatID == 0 {
		s.operationError(ctx, "Invalid message payload", "validation")
		return
	}

	// The snapshot comes from the current directory entry so display-name
	// edits made after connect still propagate into new messages.
	sender, err := s.deps.Users.GetByID(ctx, s.User().ID)
	if err != nil {
		s.internalError(ctx, err, "Failed to send message")
		return
	}

	chat, err := s.deps.Chats.GetForUser(ctx, req.ChatID, sender.ID)
	if err != nil {
		s.chatLookupError(ctx, err)
		return
	}

	// The persisted snapshot keeps the directory's underscore username form;
	// DisplayName is a render-time concern.
	msg, err := s.deps.Messages.Create(ctx, repositories.NewMessage{
		ChatID:       chat.ID,
		SenderID:     sender.ID,
		SenderName:   sender.Username,
		SenderAvatar: sender.Avatar,
		Content:      req.Content,
	})
	if err != nil {
		s.internalError(ctx, err, "Failed to send message")
		return
	}

	if err := s.deps.Chats.TouchLastMessage(ctx, chat.ID, msg.ID); err != nil {
		// The message is persisted; fan-out still happens. The chat-list
		// ordering catches up on the next successful write.
		s.deps.Log.Warn().Err(err).Int("chat_id", chat.ID).Msg("update last-message pointer")
	}

	participants, err := s.deps.Chats.Participants(ctx, chat.ID)
	if err != nil {
		s.internalError(ctx, err, "Failed to send message")
		return
	}

	chatName := chat.DisplayName()
	if chatName == "" {
		chatName = sender.DisplayName()
	}

	for _, p := range participants {
		// The sender's own channel is included for multi-device consistency.
		s.deps.Hub.Broadcast(UserRoom(p.ExternalID), protocol.EventNewMessage, msg)
		if p.ID != sender.ID {
			s.deps.Hub.Broadcast(UserRoom(p.ExternalID), protocol.EventNotification, protocol.Notification{
				Message:  msg,
				ChatID:   chat.ID,
				ChatName: chatName,
			})
		}
	}
}

func (s *Session) handleUpdateChat(ctx context.Context, data json.RawMessage) {
	var req protocol.UpdateChatRequest
	if err := json.Unmarshal(data, &req); err != nil || req.ChatID == 0 {
		s.operationError(ctx, "Invalid chat update payload", "validation")
		return
	}

	user := s.User()
	chat, err := s.deps.Chats.Get(ctx, req.ChatID)
	if err != nil {
		s.chatLookupError(ctx, err)
		return
	}
	if chat.CreatedBy != user.ID {
		s.operationError(ctx, "You are not authorized to edit this chat.", "forbidden")
		return
	}

	oldParticipants, err := s.deps.Chats.Participants(ctx, chat.ID)
	if err != nil {
		s.internalError(ctx, err, "Failed to update chat")
		return
	}

	name := chat.Name
	if req.Name != "" {
		trimmed := strings.TrimSpace(req.Name)
		name = &trimmed
	}

	newParticipants := oldParticipants
	isGroup := chat.IsGroup
	replaceMembership := len(req.Participants) > 0
	if replaceMembership {
		resolved, err := s.deps.Users.GetByExternalIDs(ctx, req.Participants)
		if err != nil {
			s.internalError(ctx, err, "Failed to update chat")
			return
		}
		creatorIncluded := false
		for _, p := range resolved {
			if p.ID == user.ID {
				creatorIncluded = true
				break
			}
		}
		if !creatorIncluded {
			creator, err := s.deps.Users.GetByID(ctx, user.ID)
			if err != nil {
				s.internalError(ctx, err, "Failed to update chat")
				return
			}
			resolved = append(resolved, creator)
		}
		newParticipants = resolved
		isGroup = len(resolved) > 2 || (name != nil && *name != "")
	}

	if err := s.deps.Chats.UpdateMeta(ctx, chat.ID, name, isGroup); err != nil {
		s.internalError(ctx, err, "Failed to update chat")
		return
	}
	if replaceMembership {
		ids := make([]int, 0, len(newParticipants))
		for _, p := range newParticipants {
			ids = append(ids, p.ID)
		}
		if err := s.deps.Chats.ReplaceParticipants(ctx, chat.ID, ids); err != nil {
			s.internalError(ctx, err, "Failed to update chat")
			return
		}
	}

	updated, err := s.deps.Chats.Get(ctx, chat.ID)
	if err != nil {
		s.internalError(ctx, err, "Failed to update chat")
		return
	}
	view, err := s.buildChatView(ctx, updated)
	if err != nil {
		s.internalError(ctx, err, "Failed to update chat")
		return
	}

	// Old and new participants both hear about the change: removed members
	// need to drop the chat, added members need to pick it up.
	notified := make(map[string]struct{})
	for _, p := range append(append([]models.User{}, oldParticipants...), newParticipants...) {
		if _, done := notified[p.ExternalID]; done {
			continue
		}
		notified[p.ExternalID] = struct{}{}
		s.deps.Hub.Broadcast(UserRoom(p.ExternalID), protocol.EventChatUpdated, view)
	}
}

func (s *Session) handleGetChatDetails(ctx context.Context, data json.RawMessage) {
	chatID, err := decodeChatID(data)
	if err != nil {
		s.operationError(ctx, "Invalid chat id", "validation")
		return
	}

	user := s.User()
	chat, err := s.deps.Chats.GetForUser(ctx, chatID, user.ID)
	if err != nil {
		s.chatLookupError(ctx, err)
		return
	}
	view, err := s.buildChatView(ctx, chat)
	if err != nil {
		s.internalError(ctx, err, "Failed to fetch chat details")
		return
	}
	s.sendEvent(protocol.EventChatDetails, view)
}

// chatLookupError conflates absence and non-membership: existence is not
// revealed to non-participants.
func (s *Session) chatLookupError(ctx context.Context, err error) {
	if errors.Is(err, repositories.ErrChatNotFound) {
		s.operationError(ctx, "Chat not found or access denied", "not_found")
		return
	}
	s.internalError(ctx, err, "Failed to fetch chat")
}

func (s *Session) buildChatView(ctx context.Context, chat models.Chat) (models.ChatView, error) {
	participants, err := s.deps.Chats.Participants(ctx, chat.ID)
	if err != nil {
		return models.ChatView{}, err
	}
	creator, err := s.deps.Users.GetByID(ctx, chat.CreatedBy)
	if err != nil {
		return models.ChatView{}, err
	}

	view := models.ChatView{
		ID:           chat.ID,
		Name:         chat.DisplayName(),
		IsGroup:      chat.IsGroup,
		Participants: participants,
		CreatedBy:    creator,
		CreatedAt:    chat.CreatedAt,
		UpdatedAt:    chat.UpdatedAt,
	}
	if chat.LastMessageID != nil {
		last, err := s.deps.Messages.GetByID(ctx, *chat.LastMessageID)
		if err == nil {
			view.LastMessage = &last
		} else if !errors.Is(err, repositories.ErrMessageNotFound) {
			return models.ChatView{}, err
		}
	}
	return view, nil
}

// decodeChatID accepts both a bare identifier and a {"chatId": n} object.
func decodeChatID(data json.RawMessage) (int, error) {
	var id int
	if err := json.Unmarshal(data, &id); err == nil && id != 0 {
		return id, nil
	}
	var ref protocol.ChatRef
	if err := json.Unmarshal(data, &ref); err != nil || ref.ChatID == 0 {
		return 0, errors.New("invalid chat id")
	}
	return ref.ChatID, nil
}
