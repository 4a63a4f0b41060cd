package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/positionbot/internal/classifier"
	"github.com/alanyoungcy/positionbot/internal/domain"
	"github.com/alanyoungcy/positionbot/internal/orchestrator"
	"github.com/alanyoungcy/positionbot/internal/service"
)

// IntentsStream is the durable stream producers append trade intents to.
const IntentsStream = "intents"

// IntentMessage is the payload of one intents stream entry. Text, when set,
// is parsed with the classifier vocabulary and the structured fields are
// ignored.
type IntentMessage struct {
	ID   string `json:"id,omitempty"`
	Text string `json:"text,omitempty"`
	domain.TradeIntent
}

// Key identifies the message for idempotency. It falls back to the stream
// entry ID.
func (m IntentMessage) Key(streamID string) string {
	if m.ID != "" {
		return m.ID
	}
	return "intent:" + streamID
}

// IntentRouter applies one decoded intent.
type IntentRouter interface {
	Route(ctx context.Context, key string, msg IntentMessage) error
}

// ErrNotRoutable marks an intent the router deliberately skips.
var ErrNotRoutable = errors.New("intent not routable")

// IntentConsumer reads the intents stream and hands every entry to a router.
// Router failures are logged and the consumer moves on; the stream position
// only rewinds on restart.
type IntentConsumer struct {
	bus     domain.SignalBus
	router  IntentRouter
	stream  string
	startID string
	batch   int
	block   time.Duration
	logger  *slog.Logger
}

// NewIntentConsumer creates a consumer on IntentsStream that starts with new
// entries only.
func NewIntentConsumer(bus domain.SignalBus, router IntentRouter, logger *slog.Logger) *IntentConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntentConsumer{
		bus:     bus,
		router:  router,
		stream:  IntentsStream,
		startID: "$",
		batch:   16,
		block:   5 * time.Second,
		logger:  logger.With(slog.String("component", "intent_consumer")),
	}
}

// Run blocks until ctx is cancelled.
func (c *IntentConsumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "intent_consumer: started", slog.String("stream", c.stream))
	lastID := c.startID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		msgs, err := c.bus.StreamRead(ctx, c.stream, lastID, c.batch, c.block)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WarnContext(ctx, "intent_consumer: read failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		for _, m := range msgs {
			lastID = m.ID
			c.handle(ctx, m)
		}
	}
}

func (c *IntentConsumer) handle(ctx context.Context, m domain.StreamMessage) {
	var msg IntentMessage
	if err := json.Unmarshal(m.Payload, &msg); err != nil {
		c.logger.WarnContext(ctx, "intent_consumer: undecodable entry",
			slog.String("stream_id", m.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	key := msg.Key(m.ID)
	if err := c.router.Route(ctx, key, msg); err != nil {
		level := slog.LevelError
		if errors.Is(err, ErrNotRoutable) || errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrDuplicateRequest) {
			level = slog.LevelWarn
		}
		c.logger.Log(ctx, level, "intent_consumer: intent failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return
	}
	c.logger.DebugContext(ctx, "intent_consumer: intent applied", slog.String("key", key))
}

// TrackRouter records intents in the position store without placing orders.
type TrackRouter struct {
	signals *service.SignalService
}

func NewTrackRouter(signals *service.SignalService) *TrackRouter {
	return &TrackRouter{signals: signals}
}

func (r *TrackRouter) Route(ctx context.Context, _ string, msg IntentMessage) error {
	var err error
	if strings.TrimSpace(msg.Text) != "" {
		_, err = r.signals.HandleText(ctx, msg.Text)
	} else {
		_, err = r.signals.Handle(ctx, msg.TradeIntent)
	}
	return err
}

// Trader is the subset of the orchestrator the trade router drives.
type Trader interface {
	OpenAndTrack(ctx context.Context, req orchestrator.OpenRequest) (orchestrator.Outcome, error)
	CloseAndSettle(ctx context.Context, req orchestrator.CloseRequest) (orchestrator.Outcome, error)
}

// PositionLookup resolves a parent position ID to its symbol.
type PositionLookup interface {
	Get(ctx context.Context, id string) (domain.Position, error)
}

// TradeRouter sends OPEN and EXIT intents through the venue. ADD intents are
// not routed: the orchestrator only opens and closes whole positions.
type TradeRouter struct {
	classifier *classifier.Classifier
	trader     Trader
	positions  PositionLookup
}

// NewTradeRouter creates a TradeRouter. positions may be nil, in which case
// EXIT intents must carry a symbol.
func NewTradeRouter(c *classifier.Classifier, trader Trader, positions PositionLookup) *TradeRouter {
	return &TradeRouter{classifier: c, trader: trader, positions: positions}
}

func (r *TradeRouter) Route(ctx context.Context, key string, msg IntentMessage) error {
	intent := msg.TradeIntent
	if strings.TrimSpace(msg.Text) != "" {
		intent = r.classifier.Parse(msg.Text)
	}

	switch op := r.classifier.Resolve(intent); op {
	case domain.OperationOpen:
		var leverage int
		if intent.Leverage != nil {
			leverage = *intent.Leverage
		}
		_, err := r.trader.OpenAndTrack(ctx, orchestrator.OpenRequest{
			IdempotencyKey: key,
			Symbol:         intent.Symbol,
			Direction:      intent.Direction,
			TradeType:      intent.TradeType,
			Leverage:       leverage,
			Quantity:       intent.Quantity,
			Amount:         intent.Amount,
			TakeProfit:     intent.TakeProfit,
			StopLoss:       intent.StopLoss,
			Strategy:       intent.Strategy,
			Notes:          intent.RawText,
		})
		return err
	case domain.OperationExit:
		symbol, err := r.exitSymbol(ctx, intent)
		if err != nil {
			return err
		}
		_, err = r.trader.CloseAndSettle(ctx, orchestrator.CloseRequest{
			IdempotencyKey: key,
			Symbol:         symbol,
			Reason:         intent.CloseReason,
		})
		return err
	default:
		return fmt.Errorf("trade router: %s: %w", op, ErrNotRoutable)
	}
}

func (r *TradeRouter) exitSymbol(ctx context.Context, intent domain.TradeIntent) (string, error) {
	if intent.Symbol != "" {
		return intent.Symbol, nil
	}
	if intent.ParentID == "" || r.positions == nil {
		return "", domain.Invalid("symbol", "required for EXIT")
	}
	pos, err := r.positions.Get(ctx, intent.ParentID)
	if err != nil {
		return "", fmt.Errorf("trade router: parent %s: %w", intent.ParentID, err)
	}
	return pos.Symbol, nil
}
