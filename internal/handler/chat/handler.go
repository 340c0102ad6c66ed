package chat

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/BookMeBot/book-me-bot/internal/bot"
	"github.com/BookMeBot/book-me-bot/internal/model/chat"
	"github.com/BookMeBot/book-me-bot/internal/service/events"
	"github.com/BookMeBot/book-me-bot/internal/service/session"
	"github.com/BookMeBot/book-me-bot/pkg/utils"
)

// broadcastLimit 限制广播时并发发送的数量。
const broadcastLimit = 8

// Sessions 是处理器依赖的会话状态机。
type Sessions interface {
	Get(ctx context.Context, chatID string) (chat.Session, error)
	Activate(ctx context.Context, chatID string) (session.Activation, error)
	ChatIDs(ctx context.Context) ([]string, error)
}

// Handler 运维接口：查看会话、重试激活、广播消息。
type Handler struct {
	sessions Sessions
	sender   bot.Sender
	events   events.Publisher
}

// New 创建处理器。sender 为 nil 时广播接口返回 503。
func New(sessions Sessions, sender bot.Sender, publisher events.Publisher) *Handler {
	return &Handler{sessions: sessions, sender: sender, events: publisher}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/chats", h.handleListChats)
	r.Get("/chats/{chatID}", h.handleGetChat)
	r.Post("/chats/{chatID}/activate", h.handleActivate)
	r.Post("/broadcast", h.handleBroadcast)
}

type chatSummary struct {
	ChatID        string     `json:"chatId"`
	State         chat.State `json:"state"`
	WalletAddress string     `json:"walletAddress,omitempty"`
	Basename      string     `json:"basename,omitempty"`
	Completed     bool       `json:"completedData"`
}

func summarize(sess chat.Session) chatSummary {
	return chatSummary{
		ChatID:        sess.ChatID,
		State:         sess.State(),
		WalletAddress: sess.WalletAddress,
		Basename:      sess.Basename,
		Completed:     sess.Completed,
	}
}

// handleListChats 列出索引中的全部会话
func (h *Handler) handleListChats(w http.ResponseWriter, r *http.Request) {
	ids, err := h.sessions.ChatIDs(r.Context())
	if err != nil {
		log.Printf("[http] list chat ids: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	out := make([]chatSummary, 0, len(ids))
	for _, id := range ids {
		sess, err := h.sessions.Get(r.Context(), id)
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			sess = chat.NewSession(id)
		case err != nil:
			log.Printf("[http] load chat %s: %v", id, err)
			utils.RespondError(w, http.StatusInternalServerError, "failed to load chat")
			return
		}
		out = append(out, summarize(sess))
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"chats": out})
}

// handleGetChat 返回单个会话记录
func (h *Handler) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	sess, err := h.sessions.Get(r.Context(), chatID)
	if err != nil {
		respondSessionError(w, chatID, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess)
}

type activationResponse struct {
	Session     chat.Session `json:"session"`
	State       chat.State   `json:"state"`
	Provisioned bool         `json:"provisioned"`
	Repaired    bool         `json:"repaired"`
	Warnings    []string     `json:"warnings,omitempty"`
}

// handleActivate 手动重试激活流程
func (h *Handler) handleActivate(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatID")
	if _, err := strconv.ParseInt(chatID, 10, 64); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "chatID must be numeric")
		return
	}

	// 激活流程不支持中途取消，断开连接后仍需完成托管
	act, err := h.sessions.Activate(context.WithoutCancel(r.Context()), chatID)
	if err != nil {
		respondSessionError(w, chatID, err)
		return
	}

	resp := activationResponse{
		Session:     act.Session,
		State:       act.State(),
		Provisioned: act.Provisioned,
		Repaired:    act.Repaired,
	}
	for _, warn := range act.Warnings {
		resp.Warnings = append(resp.Warnings, warn.Error())
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

type broadcastResult struct {
	Sent   int      `json:"sent"`
	Failed []string `json:"failed"`
}

// handleBroadcast 向所有已激活的会话发送同一条消息
func (h *Handler) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if h.sender == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "messaging unavailable")
		return
	}

	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		utils.RespondError(w, http.StatusBadRequest, "text is required")
		return
	}

	ids, err := h.sessions.ChatIDs(r.Context())
	if err != nil {
		log.Printf("[http] list chat ids: %v", err)
		utils.RespondError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}

	result := h.broadcast(r.Context(), ids, text)
	if h.events != nil {
		h.events.Publish(events.Broadcast, "", map[string]any{"sent": result.Sent, "failed": len(result.Failed)})
	}
	utils.RespondJSON(w, http.StatusOK, result)
}

func (h *Handler) broadcast(ctx context.Context, ids []string, text string) broadcastResult {
	var (
		mu     sync.Mutex
		result = broadcastResult{Failed: []string{}}
	)
	fail := func(id string) {
		mu.Lock()
		result.Failed = append(result.Failed, id)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(broadcastLimit)
	for _, id := range ids {
		g.Go(func() error {
			chatID, err := strconv.ParseInt(id, 10, 64)
			if err != nil {
				fail(id)
				return nil
			}
			if err := h.sender.Send(ctx, bot.Outgoing{ChatID: chatID, Text: text}); err != nil {
				log.Printf("[http] broadcast to chat %s failed: %v", id, err)
				fail(id)
				return nil
			}
			mu.Lock()
			result.Sent++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func respondSessionError(w http.ResponseWriter, chatID string, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		utils.RespondError(w, http.StatusNotFound, "chat not found")
	case errors.Is(err, session.ErrInitializationFailed):
		log.Printf("[http] activation of chat %s failed: %v", chatID, err)
		utils.RespondError(w, http.StatusBadGateway, "initialization failed")
	default:
		log.Printf("[http] chat %s: %v", chatID, err)
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}
