// Package worker runs one tenant's message pipeline: admission control,
// token budget, knowledge-grounded LLM reply, and the calendar
// confirmation flow. The transport (Telegram in production) is injected
// so the pipeline is testable without a network.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/san4s204/AI-ASSISTANT-main/internal/confirm"
	"github.com/san4s204/AI-ASSISTANT-main/internal/intent"
	"github.com/san4s204/AI-ASSISTANT-main/internal/llm"
	"github.com/san4s204/AI-ASSISTANT-main/internal/observability"
	"github.com/san4s204/AI-ASSISTANT-main/internal/ratelimit"
	"github.com/san4s204/AI-ASSISTANT-main/internal/wallet"
	"github.com/san4s204/AI-ASSISTANT-main/pkg/models"
)

// User-facing messages outside the confirmation flow.
const (
	msgNoKnowledge  = "ℹ️ Источник знаний не подключён. Добавьте документ в «Настройках», чтобы бот мог отвечать."
	msgWalletEmpty  = "⛔️ Баланс токенов исчерпан. Лимит обновится 1-го числа месяца."
	msgWalletNotice = "\n\nℹ️ Достигнут лимит токенов на месяц."
	msgLLMFailed    = "⚠️ Не удалось получить ответ. Попробуйте позже."
)

// InboundMessage is one user text message.
type InboundMessage struct {
	ChatID int64
	Text   string
}

// Callback is one inline-keyboard press.
type Callback struct {
	ID     string
	ChatID int64
	Data   string
}

// Handlers is what the transport invokes for inbound traffic.
type Handlers struct {
	OnMessage  func(ctx context.Context, msg InboundMessage)
	OnCallback func(ctx context.Context, cb Callback)
}

// Transport is the messaging surface a worker speaks through.
// Run must block, delivering updates to the handlers, until ctx is done.
type Transport interface {
	Run(ctx context.Context, h Handlers) error
	SendText(ctx context.Context, chatID int64, text string) error
	SendConfirm(ctx context.Context, chatID int64, text, token string) error
	SendPick(ctx context.Context, chatID int64, text, token string, count int) error
	Typing(ctx context.Context, chatID int64) error
	AckCallback(ctx context.Context, callbackID, text string, alert bool) error
}

// Config wires a Worker.
type Config struct {
	Owner     models.Owner
	Transport Transport

	Gate   *ratelimit.Gate
	Wallet *wallet.Wallet
	Plans  ratelimit.PlanResolver
	// MonthlyTokens maps plan names to monthly allowances.
	MonthlyTokens map[string]int64

	LLM       llm.Client
	Knowledge llm.KnowledgeProvider
	Flow      *confirm.Flow

	Location     *time.Location
	HistoryDepth int
	Metrics      *observability.Metrics
	Logger       *slog.Logger
	Now          func() time.Time
	Model        string
}

// Worker serves one owner's bot.
type Worker struct {
	cfg     Config
	history *historyRing
	logger  *slog.Logger
	now     func() time.Time
}

// New validates the config and builds a Worker.
func New(cfg Config) (*Worker, error) {
	switch {
	case cfg.Transport == nil:
		return nil, fmt.Errorf("worker for owner %d: transport is required", cfg.Owner.ID)
	case cfg.Gate == nil || cfg.Wallet == nil || cfg.Plans == nil:
		return nil, fmt.Errorf("worker for owner %d: gate, wallet and plans are required", cfg.Owner.ID)
	case cfg.LLM == nil || cfg.Flow == nil:
		return nil, fmt.Errorf("worker for owner %d: llm client and confirm flow are required", cfg.Owner.ID)
	}
	if cfg.Knowledge == nil {
		cfg.Knowledge = llm.NopKnowledge{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.HistoryDepth <= 0 {
		cfg.HistoryDepth = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Worker{
		cfg:     cfg,
		history: newHistoryRing(cfg.HistoryDepth),
		logger:  cfg.Logger.With("component", "worker", "owner_id", cfg.Owner.ID),
		now:     cfg.Now,
	}, nil
}

// Run blocks on the transport until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	return w.cfg.Transport.Run(ctx, Handlers{
		OnMessage:  w.handleMessage,
		OnCallback: w.handleCallback,
	})
}

func (w *Worker) handleMessage(ctx context.Context, msg InboundMessage) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.MessageCounter.WithLabelValues("inbound").Inc()
	}
	_ = w.cfg.Transport.Typing(ctx, msg.ChatID)

	if !w.admit(ctx, msg.ChatID) {
		return
	}
	plan, ok := w.checkWallet(ctx, msg)
	if !ok {
		return
	}

	knowledge, err := w.fetchKnowledge(ctx)
	if err != nil {
		w.logger.Warn("knowledge fetch failed", "error", err)
	}
	if w.cfg.Owner.KnowledgeSourceID == "" {
		w.reply(ctx, msg.ChatID, msgNoKnowledge)
		return
	}

	resp, err := w.answer(ctx, msg, knowledge)
	if err != nil {
		w.logger.Error("llm request failed", "error", err)
		w.reply(ctx, msg.ChatID, msgLLMFailed)
		return
	}

	clean, parsed := intent.Extract(resp.Text)
	w.history.Append(msg.ChatID, msg.Text, clean)

	notice := w.debit(ctx, msg, resp, plan)

	outcome := w.cfg.Flow.Propose(ctx, confirm.ProposeRequest{
		OwnerID:        w.cfg.Owner.ID,
		CollectionID:   w.cfg.Owner.CollectionID(),
		SessionID:      msg.ChatID,
		UserText:       msg.Text,
		AssistantReply: clean,
		Intent:         parsed,
	})
	switch {
	case outcome == nil:
		w.reply(ctx, msg.ChatID, clean+notice)
	case outcome.Status == confirm.StatusAwaitingConfirm:
		if err := w.cfg.Transport.SendConfirm(ctx, msg.ChatID, outcome.Message+notice, outcome.Token); err != nil {
			w.logger.Error("send confirm failed", "error", err)
		}
	default:
		w.reply(ctx, msg.ChatID, outcome.Message+notice)
	}
}

// admit runs the rate gate. Counter backend failures fail open: an
// unreachable Redis must not silence every tenant.
func (w *Worker) admit(ctx context.Context, chatID int64) bool {
	decision, err := w.cfg.Gate.Admit(ctx, w.cfg.Owner.ID)
	if err != nil {
		w.logger.Warn("rate gate unavailable, admitting", "error", err)
		return true
	}
	if decision.Allowed {
		return true
	}
	if w.cfg.Metrics != nil {
		window := "minute"
		if decision.DayLimit > 0 && decision.DayCount > int64(decision.DayLimit) {
			window = "day"
		}
		plan := w.cfg.Plans.ResolvePlan(ctx, w.cfg.Owner.ID)
		w.cfg.Metrics.RateLimitRejections.WithLabelValues(window, plan).Inc()
	}
	w.reply(ctx, chatID, ratelimit.RefusalMessage(decision))
	return false
}

// checkWallet ensures the current period's wallet exists and pre-checks
// the estimated cost. Returns the resolved plan for the later debit.
func (w *Worker) checkWallet(ctx context.Context, msg InboundMessage) (string, bool) {
	plan := w.cfg.Plans.ResolvePlan(ctx, w.cfg.Owner.ID)
	allowance := w.allowanceFor(plan)
	if err := w.cfg.Wallet.EnsurePeriod(ctx, w.cfg.Owner.ID, allowance); err != nil {
		w.logger.Error("wallet ensure failed, admitting", "error", err)
		return plan, true
	}
	can, err := w.cfg.Wallet.CanSpend(ctx, w.cfg.Owner.ID, wallet.EstimateTokens(msg.Text))
	if err != nil {
		w.logger.Error("wallet check failed, admitting", "error", err)
		return plan, true
	}
	if !can {
		w.reply(ctx, msg.ChatID, msgWalletEmpty)
		return plan, false
	}
	return plan, true
}

func (w *Worker) fetchKnowledge(ctx context.Context) (string, error) {
	if w.cfg.Owner.KnowledgeSourceID == "" {
		return "", nil
	}
	return w.cfg.Knowledge.Fetch(ctx, w.cfg.Owner.KnowledgeSourceID)
}

func (w *Worker) answer(ctx context.Context, msg InboundMessage, knowledge string) (llm.Response, error) {
	system := intent.SystemPrompt(w.cfg.Location, w.now())
	if knowledge != "" {
		system += "\n\nСправочная информация:\n" + knowledge
	}

	start := w.now()
	resp, err := w.cfg.LLM.Answer(ctx, llm.Request{
		System:  system,
		History: w.history.Get(msg.ChatID),
		User:    msg.Text,
	})
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.LLMRequestDuration.WithLabelValues(w.cfg.Model).Observe(time.Since(start).Seconds())
		status := "success"
		if err != nil {
			status = "error"
		}
		w.cfg.Metrics.LLMRequestCounter.WithLabelValues(w.cfg.Model, status).Inc()
	}
	return resp, err
}

// debit charges the reported usage. A refused debit (lost race against a
// concurrent spender) still delivers the reply with a notice appended.
func (w *Worker) debit(ctx context.Context, msg InboundMessage, resp llm.Response, plan string) string {
	tokens := resp.TotalTokens
	if tokens <= 0 {
		tokens = wallet.EstimateTokens(msg.Text + resp.Text)
	}
	granted, err := w.cfg.Wallet.Debit(ctx, w.cfg.Owner.ID, tokens, "llm_usage", uuid.NewString(),
		map[string]any{"chat_id": msg.ChatID, "plan": plan, "model": w.cfg.Model})
	if w.cfg.Metrics != nil {
		switch {
		case err != nil:
			w.cfg.Metrics.WalletDebits.WithLabelValues("error").Inc()
		case granted:
			w.cfg.Metrics.WalletDebits.WithLabelValues("granted").Inc()
			w.cfg.Metrics.WalletTokensSpent.Add(float64(tokens))
		default:
			w.cfg.Metrics.WalletDebits.WithLabelValues("refused").Inc()
		}
	}
	if err != nil {
		w.logger.Error("wallet debit failed", "error", err)
		return ""
	}
	if !granted {
		return msgWalletNotice
	}
	return ""
}

func (w *Worker) handleCallback(ctx context.Context, cb Callback) {
	verb, token, index, ok := parseCallback(cb.Data)
	if !ok {
		_ = w.cfg.Transport.AckCallback(ctx, cb.ID, "", false)
		return
	}

	var outcome confirm.Outcome
	switch verb {
	case "ok":
		outcome = w.cfg.Flow.Confirm(ctx, token, cb.ChatID)
	case "no":
		outcome = w.cfg.Flow.Cancel(token)
	case "pick":
		outcome = w.cfg.Flow.Pick(ctx, token, index, cb.ChatID)
	default:
		_ = w.cfg.Transport.AckCallback(ctx, cb.ID, "", false)
		return
	}
	w.countOutcome(verb, outcome.Status)

	switch outcome.Status {
	case confirm.StatusNotFound, confirm.StatusForbidden, confirm.StatusExpired, confirm.StatusInvalidSelection:
		// transient alert, the original message stays usable where the
		// token survived (invalid pick), stale otherwise
		_ = w.cfg.Transport.AckCallback(ctx, cb.ID, outcome.Message, true)
	case confirm.StatusAwaitingPick:
		_ = w.cfg.Transport.AckCallback(ctx, cb.ID, "", false)
		if err := w.cfg.Transport.SendPick(ctx, cb.ChatID, outcome.Message, outcome.Token, outcome.PickCount); err != nil {
			w.logger.Error("send pick failed", "error", err)
		}
	default:
		_ = w.cfg.Transport.AckCallback(ctx, cb.ID, "", false)
		w.reply(ctx, cb.ChatID, outcome.Message)
	}
}

func (w *Worker) countOutcome(verb string, status confirm.Status) {
	if w.cfg.Metrics == nil {
		return
	}
	var outcome string
	switch {
	case status == confirm.StatusOK && verb == "no":
		outcome = "cancelled"
	case status == confirm.StatusOK:
		outcome = "confirmed"
	case status == confirm.StatusExpired:
		outcome = "expired"
	case status == confirm.StatusAwaitingPick:
		outcome = "pick"
	case status == confirm.StatusNotFound, status == confirm.StatusForbidden:
		outcome = "not_found"
	default:
		outcome = string(status)
	}
	w.cfg.Metrics.ConfirmOutcomes.WithLabelValues(outcome).Inc()
}

func (w *Worker) reply(ctx context.Context, chatID int64, text string) {
	if text == "" {
		return
	}
	if err := w.cfg.Transport.SendText(ctx, chatID, text); err != nil {
		w.logger.Error("send failed", "error", err)
		return
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.MessageCounter.WithLabelValues("outbound").Inc()
	}
}

func (w *Worker) allowanceFor(plan string) int64 {
	if v, ok := w.cfg.MonthlyTokens[plan]; ok {
		return v
	}
	if v, ok := w.cfg.MonthlyTokens["free"]; ok {
		return v
	}
	return 400
}

// parseCallback splits "cal:ok:{token}", "cal:no:{token}" and
// "cal:pick:{token}:{idx}" callback payloads.
func parseCallback(data string) (verb, token string, index int, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) < 3 || parts[0] != "cal" {
		return "", "", 0, false
	}
	verb, token = parts[1], parts[2]
	if verb == "pick" {
		if len(parts) != 4 {
			return "", "", 0, false
		}
		idx, err := strconv.Atoi(parts[3])
		if err != nil {
			return "", "", 0, false
		}
		return verb, token, idx, true
	}
	if len(parts) != 3 {
		return "", "", 0, false
	}
	return verb, token, 0, true
}
