package handler

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"telechat/global"
	"telechat/logger"
	midsec "telechat/middleware/security"
	"telechat/module/chat/model"
	"telechat/module/identity"
	"telechat/service/chat"
	"telechat/tools/errs"
)

// ChatHandler is the REST durability layer. This is the only place writes
// reach the conversation/message stores; the live channel is delivery-only.
// Clients are expected to durable-write here and optionally also push on the
// live channel; a live-only send is lost on history reload.
type ChatHandler struct {
	names *identity.Directory
	gw    *chat.Server
	pages global.PageConfig
}

func New(names *identity.Directory, gw *chat.Server, pages global.PageConfig) *ChatHandler {
	return &ChatHandler{names: names, gw: gw, pages: pages}
}

// respondErr maps a taxonomy error onto the HTTP response. Forbidden comes
// out as NotFound so a non-participant cannot confirm a conversation exists.
func respondErr(c *gin.Context, err error) {
	ce := errs.CodeOf(err)
	if ce.Code == errs.CodeForbidden {
		ce = errs.ErrNotFound
	}
	c.JSON(ce.Code, ce)
}

func pageParams(c *gin.Context, defLimit int64) (page, limit int64) {
	page, _ = strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
	limit, _ = strconv.ParseInt(c.DefaultQuery("limit", strconv.FormatInt(defLimit, 10)), 10, 64)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defLimit
	}
	return page, limit
}

func pagination(total, page, limit int64) gin.H {
	return gin.H{
		"total": total,
		"page":  page,
		"pages": int64(math.Ceil(float64(total) / float64(limit))),
	}
}

// ListConversations returns the requester's active conversations, newest
// update first, each with its other participants, preview and unread count.
func (h *ChatHandler) ListConversations(c *gin.Context) {
	me, ok := midsec.IdentityFrom(c)
	if !ok {
		respondErr(c, errs.ErrUnauthenticated)
		return
	}
	page, limit := pageParams(c, h.pages.ConversationLimit)

	convs, total, err := (&model.Conversation{}).ListForIdentity(c.Request.Context(), me.ID, page, limit)
	if err != nil {
		respondErr(c, err)
		return
	}

	msgModel := &model.Message{}
	out := make([]gin.H, 0, len(convs))
	for i := range convs {
		conv := &convs[i]

		others := make([]gin.H, 0, len(conv.Participants))
		names := make([]string, 0, len(conv.Participants))
		for _, p := range conv.OtherParticipants(me.ID) {
			prof, perr := h.names.Lookup(c.Request.Context(), p)
			name, avatar := identity.PlaceholderName, ""
			if perr == nil {
				if prof.DisplayName != "" {
					name = prof.DisplayName
				}
				avatar = prof.Avatar
			}
			names = append(names, name)
			others = append(others, gin.H{
				"id":           p.ID,
				"class":        p.Class,
				"name":         name,
				"profileImage": avatar,
			})
		}

		// unread is computed per request, never cached on the document
		unread, uerr := msgModel.UnreadCount(c.Request.Context(), conv.ID, me.ID)
		if uerr != nil {
			logger.Warnf("[chat] unread count failed conv=%s err=%v", conv.ID.Hex(), uerr)
		}

		title := conv.Title
		if title == "" {
			title = strings.Join(names, ", ")
		}

		out = append(out, gin.H{
			"id":                conv.ID.Hex(),
			"otherParticipants": others,
			"lastMessage":       conv.LastMessage,
			"unreadCount":       unread,
			"title":             title,
			"createdAt":         conv.CreatedAt,
			"updatedAt":         conv.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": out,
		"pagination":    pagination(total, page, limit),
	})
}

type createConversationReq struct {
	Participants []identity.Ref `json:"participants"`
	Title        string         `json:"title"`
}

// CreateConversation finds or creates the conversation for exactly the
// requester plus the given participants. Creating it twice for the same
// unordered set returns the same conversation.
func (h *ChatHandler) CreateConversation(c *gin.Context) {
	me, ok := midsec.IdentityFrom(c)
	if !ok {
		respondErr(c, errs.ErrUnauthenticated)
		return
	}
	var req createConversationReq
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Participants) == 0 {
		respondErr(c, errs.ErrValidation.WithDetail("participants array is required"))
		return
	}

	participants := []identity.Ref{me}
	for _, p := range req.Participants {
		if p.ID == me.ID {
			continue
		}
		if p.ID == "" || !p.Class.Valid() {
			respondErr(c, errs.ErrValidation.WithDetail("participant needs identityId and class"))
			return
		}
		// reject ids that resolve to no profile in the claimed class
		if _, err := h.names.Lookup(c.Request.Context(), p); err != nil {
			if errs.Code(err) == errs.CodeNotFound {
				respondErr(c, errs.ErrNotFound.WithDetail("participant not found: "+p.ID))
				return
			}
			respondErr(c, err)
			return
		}
		participants = append(participants, p)
	}

	conv, created, err := (&model.Conversation{}).FindOrCreate(c.Request.Context(), participants, req.Title)
	if err != nil {
		respondErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": conv, "created": created})
}

// ListMessages pages a conversation ascending by creation time and, as a
// side effect, marks everything the requester did not author as read by the
// requester. Re-reading is a no-op.
func (h *ChatHandler) ListMessages(c *gin.Context) {
	me, ok := midsec.IdentityFrom(c)
	if !ok {
		respondErr(c, errs.ErrUnauthenticated)
		return
	}
	convID, err := primitive.ObjectIDFromHex(c.Param("conversationId"))
	if err != nil {
		respondErr(c, errs.ErrValidation.WithDetail("invalid conversation id"))
		return
	}
	if _, err := (&model.Conversation{}).FindForParticipant(c.Request.Context(), convID, me.ID); err != nil {
		respondErr(c, err)
		return
	}

	page, limit := pageParams(c, h.pages.MessageLimit)
	msgModel := &model.Message{}
	msgs, total, err := msgModel.ListPage(c.Request.Context(), convID, page, limit)
	if err != nil {
		respondErr(c, err)
		return
	}

	if _, err := msgModel.MarkAllRead(c.Request.Context(), convID, me); err != nil {
		logger.Warnf("[chat] read-marking failed conv=%s err=%v", convID.Hex(), err)
	}

	c.JSON(http.StatusOK, gin.H{
		"messages":   msgs,
		"pagination": pagination(total, page, limit),
	})
}

type sendMessageReq struct {
	Content     string             `json:"content"`
	Attachments []model.Attachment `json:"attachments"`
}

// SendMessage appends a message and refreshes the conversation preview. The
// gateway is not involved: pushing to online peers over the live channel is
// the client's parallel call.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	me, ok := midsec.IdentityFrom(c)
	if !ok {
		respondErr(c, errs.ErrUnauthenticated)
		return
	}
	convID, err := primitive.ObjectIDFromHex(c.Param("conversationId"))
	if err != nil {
		respondErr(c, errs.ErrValidation.WithDetail("invalid conversation id"))
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Content == "" {
		respondErr(c, errs.ErrValidation.WithDetail("message content is required"))
		return
	}

	convModel := &model.Conversation{}
	if _, err := convModel.FindForParticipant(c.Request.Context(), convID, me.ID); err != nil {
		respondErr(c, err)
		return
	}

	senderName := h.names.DisplayName(c.Request.Context(), me)
	msg, err := (&model.Message{}).Append(c.Request.Context(), convID, model.Sender{
		ID:          me.ID,
		Class:       me.Class,
		DisplayName: senderName,
	}, req.Content, req.Attachments)
	if err != nil {
		respondErr(c, err)
		return
	}

	if err := convModel.TouchLastMessage(c.Request.Context(), convID, &model.LastMessage{
		Content:     msg.Content,
		SenderID:    me.ID,
		SenderName:  senderName,
		SenderClass: me.Class,
		Timestamp:   msg.CreatedAt,
	}); err != nil {
		logger.Warnf("[chat] preview update failed conv=%s err=%v", convID.Hex(), err)
	}

	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkRead marks every message in the conversation not authored by the
// requester as read by the requester. Idempotent.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	me, ok := midsec.IdentityFrom(c)
	if !ok {
		respondErr(c, errs.ErrUnauthenticated)
		return
	}
	convID, err := primitive.ObjectIDFromHex(c.Param("conversationId"))
	if err != nil {
		respondErr(c, errs.ErrValidation.WithDetail("invalid conversation id"))
		return
	}
	if _, err := (&model.Conversation{}).FindForParticipant(c.Request.Context(), convID, me.ID); err != nil {
		respondErr(c, err)
		return
	}
	updated, err := (&model.Message{}).MarkAllRead(c.Request.Context(), convID, me)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// Archive soft-deletes the conversation and pushes a notification frame to
// any other participant still online. Nothing is ever hard-deleted.
func (h *ChatHandler) Archive(c *gin.Context) {
	me, ok := midsec.IdentityFrom(c)
	if !ok {
		respondErr(c, errs.ErrUnauthenticated)
		return
	}
	convID, err := primitive.ObjectIDFromHex(c.Param("conversationId"))
	if err != nil {
		respondErr(c, errs.ErrValidation.WithDetail("invalid conversation id"))
		return
	}
	convModel := &model.Conversation{}
	conv, err := convModel.FindForParticipant(c.Request.Context(), convID, me.ID)
	if err != nil {
		respondErr(c, err)
		return
	}
	if err := convModel.Archive(c.Request.Context(), convID); err != nil {
		respondErr(c, err)
		return
	}

	if h.gw != nil {
		for _, p := range conv.OtherParticipants(me.ID) {
			h.gw.Notify(p.ID, "conversation_archived", map[string]any{
				"conversationId": convID.Hex(),
				"archivedBy":     me.ID,
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"msg": "conversation archived"})
}

// OnlineStatus reports liveness (from the connection registry) and last-seen
// (from the presence store) for a comma-separated id list.
func (h *ChatHandler) OnlineStatus(c *gin.Context) {
	raw := strings.TrimSpace(c.Query("ids"))
	if raw == "" {
		respondErr(c, errs.ErrValidation.WithDetail("ids query parameter is required"))
		return
	}
	ids := strings.Split(raw, ",")
	out := make([]gin.H, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		entry := gin.H{
			"identityId": id,
			"isOnline":   h.gw != nil && h.gw.Conns().IsOnline(id),
		}
		if h.gw != nil && h.gw.Presence() != nil {
			if ts, err := h.gw.Presence().LastSeen(c.Request.Context(), id); err == nil {
				entry["lastSeen"] = ts.Format(time.RFC3339)
			}
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"statuses": out})
}
