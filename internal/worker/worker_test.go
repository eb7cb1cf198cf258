package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/san4s204/AI-ASSISTANT-main/internal/calendar"
	"github.com/san4s204/AI-ASSISTANT-main/internal/confirm"
	"github.com/san4s204/AI-ASSISTANT-main/internal/llm"
	"github.com/san4s204/AI-ASSISTANT-main/internal/ratelimit"
	"github.com/san4s204/AI-ASSISTANT-main/internal/storage"
	"github.com/san4s204/AI-ASSISTANT-main/internal/wallet"
	"github.com/san4s204/AI-ASSISTANT-main/pkg/models"
)

// fakeTransport records outbound traffic.
type fakeTransport struct {
	mu       sync.Mutex
	texts    []string
	confirms []string
	tokens   []string
	picks    []string
	acks     []string
}

func (f *fakeTransport) Run(ctx context.Context, h Handlers) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeTransport) SendText(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeTransport) SendConfirm(_ context.Context, _ int64, text, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms = append(f.confirms, text)
	f.tokens = append(f.tokens, token)
	return nil
}

func (f *fakeTransport) SendPick(_ context.Context, _ int64, text, token string, count int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.picks = append(f.picks, fmt.Sprintf("%s|%s|%d", text, token, count))
	return nil
}

func (f *fakeTransport) Typing(context.Context, int64) error { return nil }

func (f *fakeTransport) AckCallback(_ context.Context, _ string, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, fmt.Sprintf("%s|%v", text, alert))
	return nil
}

func (f *fakeTransport) lastText(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		t.Fatal("no text sent")
	}
	return f.texts[len(f.texts)-1]
}

func (f *fakeTransport) lastAck(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.acks) == 0 {
		t.Fatal("no callback acked")
	}
	return f.acks[len(f.acks)-1]
}

// fakeLLM returns scripted replies in order and records requests.
type fakeLLM struct {
	mu      sync.Mutex
	replies []llm.Response
	err     error
	reqs    []llm.Request
}

func (f *fakeLLM) Answer(_ context.Context, req llm.Request) (llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return llm.Response{}, f.err
	}
	if len(f.replies) == 0 {
		return llm.Response{Text: "ок", TotalTokens: 10}, nil
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

// stubCalendar accepts every operation and records creates.
type stubCalendar struct {
	mu      sync.Mutex
	created []calendar.Draft
}

func (c *stubCalendar) ListBetween(context.Context, int64, string, time.Time, time.Time) ([]models.Event, error) {
	return nil, nil
}

func (c *stubCalendar) Create(_ context.Context, _ int64, _ string, d calendar.Draft) (*models.Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.created = append(c.created, d)
	return &models.Event{ID: "ev-new", Summary: d.Summary}, nil
}

func (c *stubCalendar) Patch(context.Context, int64, string, string, calendar.Patch) (*models.Event, error) {
	return &models.Event{ID: "ev-patched"}, nil
}

func (c *stubCalendar) Delete(context.Context, int64, string, string) error { return nil }

func (c *stubCalendar) ResolveTimezone(context.Context, int64) (*time.Location, error) {
	return time.UTC, nil
}

type testEnv struct {
	worker    *Worker
	transport *fakeTransport
	llm       *fakeLLM
	wallet    *wallet.Wallet
	calendar  *stubCalendar
}

func newEnv(t *testing.T, owner models.Owner) *testEnv {
	t.Helper()
	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)

	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	wlt, err := wallet.New(db, wallet.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}

	plans := ratelimit.PlanResolverFunc(func(context.Context, int64) string { return "free" })
	gate := ratelimit.NewGate(ratelimit.GateConfig{
		Counters: ratelimit.NewMemoryCounters(),
		Plans:    plans,
		RPM:      map[string]int{"free": 20},
		RPD:      map[string]int{"free": 500},
	})

	cal := &stubCalendar{}
	flow := confirm.NewFlow(confirm.FlowConfig{
		Calendar:        cal,
		DefaultLocation: time.UTC,
		Now:             func() time.Time { return now },
	})

	transport := &fakeTransport{}
	fllm := &fakeLLM{}

	w, err := New(Config{
		Owner:         owner,
		Transport:     transport,
		Gate:          gate,
		Wallet:        wlt,
		Plans:         plans,
		MonthlyTokens: map[string]int64{"free": 400, "premium": 80000},
		LLM:           fllm,
		Knowledge:     llm.StaticKnowledge{"kb-1": "Прайс: стрижка 1000₽"},
		Flow:          flow,
		Location:      time.UTC,
		Now:           func() time.Time { return now },
		Model:         "deepseek/deepseek-chat",
	})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return &testEnv{worker: w, transport: transport, llm: fllm, wallet: wlt, calendar: cal}
}

func testOwner() models.Owner {
	return models.Owner{ID: 7, BotToken: "777:zzz", KnowledgeSourceID: "kb-1", Subscription: "free"}
}

const createReply = "Записал вас на стрижку.\n" +
	`<calendar_plan>{"action":"create","event":{"summary":"Стрижка","start":"2026-03-12T10:00:00","end":"2026-03-12T11:00:00"}}</calendar_plan>`

func TestPlainReplyIsDeliveredAndDebited(t *testing.T) {
	env := newEnv(t, testOwner())
	env.llm.replies = []llm.Response{{Text: "Здравствуйте! Чем могу помочь?", TotalTokens: 25}}

	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "привет"})

	if got := env.transport.lastText(t); got != "Здравствуйте! Чем могу помочь?" {
		t.Fatalf("reply = %q", got)
	}
	_, spent, _, err := env.wallet.Balance(context.Background(), 7)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if spent != 25 {
		t.Fatalf("spent = %d, want 25", spent)
	}
	if sys := env.llm.reqs[0].System; !strings.Contains(sys, "стрижка 1000₽") {
		t.Fatalf("system prompt missing knowledge: %q", sys)
	}
}

func TestHistoryAccumulatesAcrossTurns(t *testing.T) {
	env := newEnv(t, testOwner())
	env.llm.replies = []llm.Response{
		{Text: "первый ответ", TotalTokens: 5},
		{Text: "второй ответ", TotalTokens: 5},
	}

	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "раз"})
	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "два"})

	second := env.llm.reqs[1]
	if len(second.History) != 2 {
		t.Fatalf("history = %d messages, want 2", len(second.History))
	}
	if second.History[0].Content != "раз" || second.History[1].Content != "первый ответ" {
		t.Fatalf("history = %+v", second.History)
	}
}

func TestRateLimitRefusal(t *testing.T) {
	env := newEnv(t, testOwner())

	for i := 0; i < 20; i++ {
		env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "ещё"})
	}
	before := env.llm.calls()
	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "снова"})

	if got := env.transport.lastText(t); !strings.Contains(got, "Превышен лимит запросов") {
		t.Fatalf("refusal = %q", got)
	}
	if env.llm.calls() != before {
		t.Fatal("refused request must not reach the model")
	}
}

func TestWalletExhaustedRefusal(t *testing.T) {
	env := newEnv(t, testOwner())
	env.llm.replies = []llm.Response{{Text: "ответ", TotalTokens: 400}}

	// first message burns the whole monthly allowance
	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "привет"})
	before := env.llm.calls()

	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "ещё"})
	if got := env.transport.lastText(t); !strings.Contains(got, "Баланс токенов исчерпан") {
		t.Fatalf("refusal = %q", got)
	}
	if env.llm.calls() != before {
		t.Fatal("broke request must not reach the model")
	}
}

func TestNoKnowledgeSourceShortCircuits(t *testing.T) {
	owner := testOwner()
	owner.KnowledgeSourceID = ""
	env := newEnv(t, owner)

	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "привет"})

	if got := env.transport.lastText(t); !strings.Contains(got, "Источник знаний не подключён") {
		t.Fatalf("reply = %q", got)
	}
	if env.llm.calls() != 0 {
		t.Fatal("model must not be called without a knowledge source")
	}
}

func TestLLMFailureApology(t *testing.T) {
	env := newEnv(t, testOwner())
	env.llm.err = errors.New("upstream down")

	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "привет"})

	if got := env.transport.lastText(t); got != msgLLMFailed {
		t.Fatalf("reply = %q", got)
	}
	_, spent, _, _ := env.wallet.Balance(context.Background(), 7)
	if spent != 0 {
		t.Fatalf("failed request must not be debited, spent = %d", spent)
	}
}

func TestMutatingIntentSendsConfirmKeyboard(t *testing.T) {
	env := newEnv(t, testOwner())
	env.llm.replies = []llm.Response{{Text: createReply, TotalTokens: 30}}

	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "запиши меня на стрижку завтра в 10"})

	env.transport.mu.Lock()
	defer env.transport.mu.Unlock()
	if len(env.transport.confirms) != 1 {
		t.Fatalf("confirms = %d, want 1", len(env.transport.confirms))
	}
	if !strings.Contains(env.transport.confirms[0], "Записал вас на стрижку.") {
		t.Fatalf("confirm text = %q", env.transport.confirms[0])
	}
	if env.transport.tokens[0] == "" {
		t.Fatal("confirm keyboard needs a token")
	}
	if len(env.transport.texts) != 0 {
		t.Fatalf("plain reply duplicated alongside keyboard: %v", env.transport.texts)
	}
}

func TestCallbackConfirmCreatesEvent(t *testing.T) {
	env := newEnv(t, testOwner())
	env.llm.replies = []llm.Response{{Text: createReply, TotalTokens: 30}}
	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "запиши"})

	env.transport.mu.Lock()
	token := env.transport.tokens[0]
	env.transport.mu.Unlock()

	env.worker.handleCallback(context.Background(), Callback{ID: "cb1", ChatID: 100, Data: "cal:ok:" + token})

	env.calendar.mu.Lock()
	created := len(env.calendar.created)
	env.calendar.mu.Unlock()
	if created != 1 {
		t.Fatalf("created = %d, want 1", created)
	}
	if got := env.transport.lastText(t); !strings.Contains(got, "Запись создана") {
		t.Fatalf("reply = %q", got)
	}
}

func TestCallbackCancel(t *testing.T) {
	env := newEnv(t, testOwner())
	env.llm.replies = []llm.Response{{Text: createReply, TotalTokens: 30}}
	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "запиши"})

	env.transport.mu.Lock()
	token := env.transport.tokens[0]
	env.transport.mu.Unlock()

	env.worker.handleCallback(context.Background(), Callback{ID: "cb1", ChatID: 100, Data: "cal:no:" + token})
	if got := env.transport.lastText(t); got != "Ок, отменено." {
		t.Fatalf("cancel reply = %q", got)
	}

	// second press on the dead token is a stale alert
	env.worker.handleCallback(context.Background(), Callback{ID: "cb2", ChatID: 100, Data: "cal:no:" + token})
	if ack := env.transport.lastAck(t); !strings.Contains(ack, "Операция устарела") || !strings.HasSuffix(ack, "|true") {
		t.Fatalf("stale ack = %q", ack)
	}
}

func TestCallbackFromWrongChatIsRejected(t *testing.T) {
	env := newEnv(t, testOwner())
	env.llm.replies = []llm.Response{{Text: createReply, TotalTokens: 30}}
	env.worker.handleMessage(context.Background(), InboundMessage{ChatID: 100, Text: "запиши"})

	env.transport.mu.Lock()
	token := env.transport.tokens[0]
	env.transport.mu.Unlock()

	env.worker.handleCallback(context.Background(), Callback{ID: "cb1", ChatID: 999, Data: "cal:ok:" + token})
	if ack := env.transport.lastAck(t); !strings.Contains(ack, "Недоступно в этом чате") {
		t.Fatalf("ack = %q", ack)
	}

	env.calendar.mu.Lock()
	created := len(env.calendar.created)
	env.calendar.mu.Unlock()
	if created != 0 {
		t.Fatal("foreign chat must not trigger execution")
	}
}

func TestParseCallback(t *testing.T) {
	cases := []struct {
		data  string
		verb  string
		token string
		index int
		ok    bool
	}{
		{"cal:ok:abc123", "ok", "abc123", 0, true},
		{"cal:no:abc123", "no", "abc123", 0, true},
		{"cal:pick:abc123:2", "pick", "abc123", 2, true},
		{"cal:pick:abc123", "", "", 0, false},
		{"cal:pick:abc123:x", "", "", 0, false},
		{"other:ok:abc", "", "", 0, false},
		{"cal:ok", "", "", 0, false},
		{"", "", "", 0, false},
	}
	for _, tc := range cases {
		verb, token, index, ok := parseCallback(tc.data)
		if verb != tc.verb || token != tc.token || index != tc.index || ok != tc.ok {
			t.Errorf("parseCallback(%q) = (%q, %q, %d, %v), want (%q, %q, %d, %v)",
				tc.data, verb, token, index, ok, tc.verb, tc.token, tc.index, tc.ok)
		}
	}
}
