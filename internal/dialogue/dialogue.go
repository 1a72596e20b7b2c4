// Package dialogue drives one session's conversation: it applies resolved
// intents to the order, asks for confirmation before risky actions, and owns
// the payment handshake.
//
// A Machine's confirmation state is exclusive to its session. At most one
// confirmation is ever pending, and the action bound to it executes at most
// once no matter how often the customer answers ambiguously.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/voxkiosk/voxkiosk/internal/order"
	"github.com/voxkiosk/voxkiosk/pkg/provider/payment"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// State is the dialogue phase of a session.
type State int

const (
	// StateIdle accepts any intent.
	StateIdle State = iota
	// StateAwaitingConfirmation interprets the next utterance as an answer
	// to the pending confirmation prompt.
	StateAwaitingConfirmation
	// StateCompleted marks a finished order cycle. The next utterance
	// starts a fresh cycle from Idle.
	StateCompleted
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// confirmQuantityThreshold is the line quantity at or above which the kiosk
// double-checks before accepting the order.
const confirmQuantityThreshold = 10

// historyLimit bounds the dialogue context handed to the intent classifier.
const historyLimit = 12

// pendingConfirmation binds exactly one deferred action to a prompt.
type pendingConfirmation struct {
	kind   types.ConfirmationKind
	prompt string

	// Payment snapshot, set for PaymentConfirm. The idempotency key is
	// minted when the confirmation is armed and reused across retries so a
	// charge can never run twice for one confirmation.
	orderID        string
	amount         int64
	idempotencyKey string

	// uncertain lists the tentatively added items a negative answer rolls
	// back, set for item and quantity confirmations.
	uncertain []order.LineItem
}

// Response is what the machine wants spoken back to the customer.
type Response struct {
	// Prompt is the reply text, in the customer's language.
	Prompt string

	// State is the machine state after handling the utterance.
	State State

	// Receipt is set when this turn completed a payment.
	Receipt *payment.Receipt
}

// Machine is the per-session dialogue state machine. It is not safe for
// concurrent use: each session owns one Machine and drives it from its single
// pipeline worker, so callers must serialize calls for a given session.
type Machine struct {
	sessionID string
	orders    *order.Manager
	payments  payment.Processor
	logger    *slog.Logger

	state   State
	pending *pendingConfirmation
	history []types.Message
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// NewMachine creates a dialogue machine for one session.
func NewMachine(sessionID string, orders *order.Manager, payments payment.Processor, opts ...Option) (*Machine, error) {
	if sessionID == "" {
		return nil, errors.New("dialogue: sessionID must not be empty")
	}
	if orders == nil {
		return nil, errors.New("dialogue: order manager must not be nil")
	}
	if payments == nil {
		return nil, errors.New("dialogue: payment processor must not be nil")
	}
	m := &Machine{
		sessionID: sessionID,
		orders:    orders,
		payments:  payments,
		state:     StateIdle,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// State returns the current dialogue state.
func (m *Machine) State() State {
	return m.state
}

// History returns a copy of the recent dialogue turns for classifier context.
func (m *Machine) History() []types.Message {
	out := make([]types.Message, len(m.history))
	copy(out, m.history)
	return out
}

// Reset returns the machine to Idle, clears any pending confirmation and
// detaches the order reference. The order itself is left untouched.
func (m *Machine) Reset() {
	m.state = StateIdle
	m.pending = nil
	m.history = nil
}

// HandleIntent advances the dialogue with one resolved intent. utterance is
// the raw transcript, needed to read confirmation answers.
func (m *Machine) HandleIntent(ctx context.Context, intent *types.Intent, utterance string) (*Response, error) {
	if intent == nil {
		return nil, errors.New("dialogue: intent must not be nil")
	}
	if err := m.checkInvariants(); err != nil {
		return nil, err
	}

	// A completed cycle rolls over to a fresh one on the next utterance.
	if m.state == StateCompleted {
		m.state = StateIdle
		m.pending = nil
	}

	var (
		resp *Response
		err  error
	)
	if m.state == StateAwaitingConfirmation {
		resp, err = m.handleConfirmationAnswer(ctx, intent, utterance)
	} else {
		resp, err = m.handleIdle(ctx, intent, utterance)
	}
	if err != nil {
		return nil, err
	}

	m.remember("user", utterance)
	m.remember("assistant", resp.Prompt)
	return resp, nil
}

// checkInvariants verifies state and pending agree. A violation resets the
// session to Idle and surfaces a typed error; it is never silently ignored.
func (m *Machine) checkInvariants() error {
	violated := (m.state == StateAwaitingConfirmation) != (m.pending != nil)
	if !violated {
		return nil
	}
	m.logger.Error("dialogue state corrupted, resetting session",
		"session", m.sessionID, "state", m.state, "has_pending", m.pending != nil)
	m.Reset()
	return fmt.Errorf("dialogue: state %s with pending=%t: %w",
		m.state, m.pending != nil, types.ErrStateInvariant)
}

// handleIdle dispatches an intent with no confirmation outstanding.
func (m *Machine) handleIdle(ctx context.Context, intent *types.Intent, utterance string) (*Response, error) {
	switch intent.Type {
	case types.IntentOrder:
		return m.handleOrder(ctx, intent)
	case types.IntentModify:
		return m.handleModify(ctx, intent)
	case types.IntentCancel:
		return m.handleCancel(ctx)
	case types.IntentPayment:
		return m.handlePaymentRequest(ctx)
	case types.IntentInquiry:
		return m.handleInquiry(ctx)
	case types.IntentGreeting:
		return m.idleResponse("어서 오세요! 주문을 도와드릴게요. 무엇을 드릴까요?"), nil
	case types.IntentHelp:
		return m.idleResponse("메뉴 이름과 수량을 말씀해 주세요. 예를 들어 \"빅맥 세트 하나 주세요\"라고 하시면 됩니다."), nil
	default:
		return m.idleResponse("죄송해요, 잘 알아듣지 못했어요. 다시 한번 말씀해 주시겠어요?"), nil
	}
}

func (m *Machine) handleOrder(ctx context.Context, intent *types.Intent) (*Response, error) {
	if len(intent.Entities) == 0 {
		return m.idleResponse("어떤 메뉴를 드릴까요?"), nil
	}

	res, err := m.orders.AddItems(ctx, m.sessionID, intent.Entities)
	if err != nil {
		return nil, fmt.Errorf("dialogue: add items: %w", err)
	}
	if len(res.Added) == 0 {
		return m.idleResponse(fmt.Sprintf("죄송해요, %s 메뉴를 찾지 못했어요. 다른 메뉴를 말씀해 주시겠어요?",
			strings.Join(res.Unresolved, ", "))), nil
	}

	// Sound-alike matches and unusually large quantities are read back for
	// confirmation before they stick.
	uncertain := res.Uncertain
	kind := types.Clarification
	for _, li := range res.Added {
		if li.Quantity >= confirmQuantityThreshold {
			uncertain = append(uncertain, li)
			kind = types.QuantityConfirm
		}
	}
	if len(uncertain) > 0 {
		prompt := fmt.Sprintf("%s 맞으실까요?", describeItems(uncertain))
		m.arm(&pendingConfirmation{
			kind:      kind,
			prompt:    prompt,
			uncertain: uncertain,
		})
		return &Response{Prompt: prompt, State: m.state}, nil
	}

	return m.idleResponse(fmt.Sprintf("%s 담았습니다. 현재 %d원입니다. 더 필요하신 것 있으세요?",
		describeItems(res.Added), res.Order.Total())), nil
}

func (m *Machine) handleModify(ctx context.Context, intent *types.Intent) (*Response, error) {
	if len(intent.Entities) == 0 {
		return m.idleResponse("무엇을 바꿔드릴까요?"), nil
	}
	res, err := m.orders.ModifyItems(ctx, m.sessionID, intent.Entities)
	if err != nil {
		return nil, fmt.Errorf("dialogue: modify items: %w", err)
	}
	if len(res.Added) == 0 {
		return m.idleResponse("주문에서 해당 메뉴를 찾지 못했어요. 다시 말씀해 주시겠어요?"), nil
	}
	return m.idleResponse(fmt.Sprintf("%s(으)로 변경했습니다. 현재 %d원입니다.",
		describeItems(res.Added), res.Order.Total())), nil
}

func (m *Machine) handleCancel(ctx context.Context) (*Response, error) {
	cancelled, err := m.orders.CancelOrder(ctx, m.sessionID)
	if err != nil {
		return nil, fmt.Errorf("dialogue: cancel order: %w", err)
	}
	if cancelled == nil {
		return m.idleResponse("취소할 주문이 없습니다. 새로 주문하시겠어요?"), nil
	}
	return m.idleResponse("주문을 취소했습니다. 다른 주문을 도와드릴까요?"), nil
}

func (m *Machine) handlePaymentRequest(ctx context.Context) (*Response, error) {
	o, err := m.orders.CurrentOrder(ctx, m.sessionID)
	if err != nil {
		return nil, fmt.Errorf("dialogue: load order: %w", err)
	}
	if o == nil || len(o.Items) == 0 {
		return m.idleResponse("결제할 주문이 없습니다. 먼저 메뉴를 말씀해 주세요."), nil
	}

	total := o.Total()
	prompt := fmt.Sprintf("총 %d원입니다. 결제할까요?", total)
	m.arm(&pendingConfirmation{
		kind:           types.PaymentConfirm,
		prompt:         prompt,
		orderID:        o.ID,
		amount:         total,
		idempotencyKey: uuid.NewString(),
	})
	return &Response{Prompt: prompt, State: m.state}, nil
}

func (m *Machine) handleInquiry(ctx context.Context) (*Response, error) {
	o, err := m.orders.CurrentOrder(ctx, m.sessionID)
	if err != nil {
		return nil, fmt.Errorf("dialogue: load order: %w", err)
	}
	if o == nil || len(o.Items) == 0 {
		return m.idleResponse("아직 담긴 메뉴가 없습니다. 무엇을 드릴까요?"), nil
	}
	return m.idleResponse(fmt.Sprintf("현재 주문은 %s, 총 %d원입니다.",
		describeItems(o.Items), o.Total())), nil
}

// handleConfirmationAnswer reads the utterance as an answer to the pending
// prompt. Anything that is neither clearly affirmative nor clearly negative
// re-emits the prompt without touching the bound action.
func (m *Machine) handleConfirmationAnswer(ctx context.Context, intent *types.Intent, utterance string) (*Response, error) {
	pending := m.pending

	switch {
	case isAffirmative(utterance):
		// Disarm before executing: even if execution fails, the bound
		// action can never run a second time from this confirmation.
		m.disarm()
		return m.executeConfirmed(ctx, pending)

	case isNegative(utterance) || intent.Type == types.IntentCancel:
		m.disarm()
		return m.rollbackDeclined(ctx, pending)

	default:
		m.logger.Debug("ambiguous confirmation answer, re-prompting",
			"session", m.sessionID, "kind", pending.kind, "utterance", utterance)
		return &Response{Prompt: pending.prompt, State: m.state}, nil
	}
}

// executeConfirmed runs the single action bound to the confirmation.
func (m *Machine) executeConfirmed(ctx context.Context, pending *pendingConfirmation) (*Response, error) {
	switch pending.kind {
	case types.PaymentConfirm:
		receipt, err := m.payments.Charge(ctx, payment.ChargeRequest{
			Amount:         pending.amount,
			Currency:       "krw",
			OrderID:        pending.orderID,
			Description:    "voxkiosk order " + pending.orderID,
			IdempotencyKey: pending.idempotencyKey,
		})
		if err != nil {
			// The confirmation is spent. The customer must ask to pay
			// again, which arms a fresh confirmation.
			m.logger.Error("payment failed", "session", m.sessionID,
				"order", pending.orderID, "error", err)
			return &Response{
				Prompt: "죄송합니다, 결제에 실패했습니다. 다시 결제를 요청해 주세요.",
				State:  m.state,
			}, nil
		}
		if err := m.orders.MarkPaid(ctx, pending.orderID, receipt.TransactionID); err != nil {
			m.logger.Error("payment succeeded but order update failed",
				"session", m.sessionID, "order", pending.orderID, "error", err)
		}
		m.state = StateCompleted
		return &Response{
			Prompt:  fmt.Sprintf("결제가 완료되었습니다. %d원 결제되었어요. 감사합니다!", receipt.Amount),
			State:   m.state,
			Receipt: receipt,
		}, nil

	default:
		// Item and quantity confirmations: the items are already on the
		// order; an affirmative answer simply keeps them.
		return m.idleResponse("네, 확인했습니다. 더 필요하신 것 있으세요?"), nil
	}
}

// rollbackDeclined undoes whatever the declined confirmation had staged.
func (m *Machine) rollbackDeclined(ctx context.Context, pending *pendingConfirmation) (*Response, error) {
	switch pending.kind {
	case types.PaymentConfirm:
		return m.idleResponse("결제를 취소했습니다. 주문을 계속하시겠어요?"), nil

	default:
		if len(pending.uncertain) > 0 {
			entities := make([]types.Entity, len(pending.uncertain))
			for i, li := range pending.uncertain {
				entities[i] = types.Entity{MenuItem: li.Name, Quantity: 0}
			}
			if _, err := m.orders.ModifyItems(ctx, m.sessionID, entities); err != nil {
				m.logger.Warn("failed to roll back declined items",
					"session", m.sessionID, "error", err)
			}
		}
		return m.idleResponse("알겠습니다, 뺐습니다. 다른 메뉴를 말씀해 주세요."), nil
	}
}

// arm sets the at-most-one pending confirmation.
func (m *Machine) arm(p *pendingConfirmation) {
	m.pending = p
	m.state = StateAwaitingConfirmation
}

// disarm clears the pending confirmation and returns to Idle.
func (m *Machine) disarm() {
	m.pending = nil
	m.state = StateIdle
}

func (m *Machine) idleResponse(prompt string) *Response {
	m.state = StateIdle
	return &Response{Prompt: prompt, State: m.state}
}

func (m *Machine) remember(role, content string) {
	if content == "" {
		return
	}
	m.history = append(m.history, types.Message{Role: role, Content: content})
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

// describeItems renders line items for a spoken prompt.
func describeItems(items []order.LineItem) string {
	parts := make([]string, len(items))
	for i, li := range items {
		parts[i] = fmt.Sprintf("%s %d개", li.Name, li.Quantity)
	}
	return strings.Join(parts, ", ")
}
