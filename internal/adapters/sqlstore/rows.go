package sqlstore

import (
	"database/sql"
	"time"

	"github.com/winniepooh001/GPTComparison/internal/domain"
)

type ledgerRow struct {
	StrategyID       string    `db:"strategy_id"`
	StartingCapital  float64   `db:"starting_capital"`
	Cash             float64   `db:"cash"`
	Paused           bool      `db:"paused"`
	SuccessfulCycles int       `db:"successful_cycles"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func toLedgerRow(st domain.LedgerState) ledgerRow {
	return ledgerRow{
		StrategyID:       string(st.StrategyID),
		StartingCapital:  st.StartingCapital,
		Cash:             st.Cash,
		Paused:           st.Paused,
		SuccessfulCycles: st.SuccessfulCycles,
		UpdatedAt:        st.UpdatedAt.UTC(),
	}
}

func (r ledgerRow) toDomain() domain.LedgerState {
	return domain.LedgerState{
		StrategyID:       domain.StrategyID(r.StrategyID),
		StartingCapital:  r.StartingCapital,
		Cash:             r.Cash,
		Paused:           r.Paused,
		SuccessfulCycles: r.SuccessfulCycles,
		Positions:        make(map[string]domain.Position),
		UpdatedAt:        r.UpdatedAt.UTC(),
	}
}

type positionRow struct {
	StrategyID string    `db:"strategy_id"`
	Ticker     string    `db:"ticker"`
	Side       string    `db:"side"`
	Quantity   int64     `db:"quantity"`
	AvgPrice   float64   `db:"avg_price"`
	LastPrice  float64   `db:"last_price"`
	OpenedAt   time.Time `db:"opened_at"`
}

func toPositionRow(id domain.StrategyID, p domain.Position) positionRow {
	return positionRow{
		StrategyID: string(id),
		Ticker:     p.Ticker,
		Side:       string(p.Side),
		Quantity:   p.Quantity,
		AvgPrice:   p.AvgPrice,
		LastPrice:  p.LastPrice,
		OpenedAt:   p.OpenedAt.UTC(),
	}
}

func (r positionRow) toDomain() domain.Position {
	return domain.Position{
		Ticker:    r.Ticker,
		Side:      domain.Side(r.Side),
		Quantity:  r.Quantity,
		AvgPrice:  r.AvgPrice,
		LastPrice: r.LastPrice,
		OpenedAt:  r.OpenedAt.UTC(),
	}
}

type orderRow struct {
	ID              string       `db:"id"`
	StrategyID      string       `db:"strategy_id"`
	Ordinal         int          `db:"ordinal"`
	ClientOrderID   string       `db:"client_order_id"`
	BrokerOrderID   string       `db:"broker_order_id"`
	Ticker          string       `db:"ticker"`
	Side            string       `db:"side"`
	Quantity        int64        `db:"quantity"`
	EntryPriceHint  float64      `db:"entry_price_hint"`
	StopLossPrice   float64      `db:"stop_loss_price"`
	TakeProfitPrice float64      `db:"take_profit_price"`
	MaxHoldUntil    time.Time    `db:"max_hold_until"`
	State           string       `db:"state"`
	FillPrice       float64      `db:"fill_price"`
	ExitPrice       float64      `db:"exit_price"`
	Commission      float64      `db:"commission"`
	LastSeq         int64        `db:"last_seq"`
	Reason          string       `db:"reason"`
	Attempt         int          `db:"attempt"`
	CreatedAt       time.Time    `db:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at"`
	FilledAt        sql.NullTime `db:"filled_at"`
	ClosedAt        sql.NullTime `db:"closed_at"`
}

func toOrderRow(ordinal int, o domain.Order) orderRow {
	return orderRow{
		ID:              o.ID,
		StrategyID:      string(o.StrategyID),
		Ordinal:         ordinal,
		ClientOrderID:   o.ClientOrderID,
		BrokerOrderID:   o.BrokerOrderID,
		Ticker:          o.Ticker,
		Side:            string(o.Side),
		Quantity:        o.Quantity,
		EntryPriceHint:  o.EntryPriceHint,
		StopLossPrice:   o.StopLossPrice,
		TakeProfitPrice: o.TakeProfitPrice,
		MaxHoldUntil:    o.MaxHoldUntil.UTC(),
		State:           string(o.State),
		FillPrice:       o.FillPrice,
		ExitPrice:       o.ExitPrice,
		Commission:      o.Commission,
		LastSeq:         int64(o.LastSeq),
		Reason:          o.Reason,
		Attempt:         o.Attempt,
		CreatedAt:       o.CreatedAt.UTC(),
		UpdatedAt:       o.UpdatedAt.UTC(),
		FilledAt:        nullTime(o.FilledAt),
		ClosedAt:        nullTime(o.ClosedAt),
	}
}

func (r orderRow) toDomain() domain.Order {
	o := domain.Order{
		ID:              r.ID,
		ClientOrderID:   r.ClientOrderID,
		BrokerOrderID:   r.BrokerOrderID,
		StrategyID:      domain.StrategyID(r.StrategyID),
		Ticker:          r.Ticker,
		Side:            domain.Side(r.Side),
		Quantity:        r.Quantity,
		EntryPriceHint:  r.EntryPriceHint,
		StopLossPrice:   r.StopLossPrice,
		TakeProfitPrice: r.TakeProfitPrice,
		MaxHoldUntil:    r.MaxHoldUntil.UTC(),
		State:           domain.OrderState(r.State),
		FillPrice:       r.FillPrice,
		ExitPrice:       r.ExitPrice,
		Commission:      r.Commission,
		LastSeq:         uint64(r.LastSeq),
		Reason:          r.Reason,
		Attempt:         r.Attempt,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
	if r.FilledAt.Valid {
		o.FilledAt = r.FilledAt.Time.UTC()
	}
	if r.ClosedAt.Valid {
		o.ClosedAt = r.ClosedAt.Time.UTC()
	}
	return o
}

type eventRow struct {
	StrategyID string    `db:"strategy_id"`
	Ordinal    int       `db:"ordinal"`
	OrderID    string    `db:"order_id"`
	FromState  string    `db:"from_state"`
	ToState    string    `db:"to_state"`
	Price      float64   `db:"price"`
	Seq        int64     `db:"seq"`
	Reason     string    `db:"reason"`
	At         time.Time `db:"at"`
}

func toEventRow(id domain.StrategyID, ordinal int, ev domain.OrderEvent) eventRow {
	return eventRow{
		StrategyID: string(id),
		Ordinal:    ordinal,
		OrderID:    ev.OrderID,
		FromState:  string(ev.From),
		ToState:    string(ev.To),
		Price:      ev.Price,
		Seq:        int64(ev.Seq),
		Reason:     ev.Reason,
		At:         ev.At.UTC(),
	}
}

func (r eventRow) toDomain() domain.OrderEvent {
	return domain.OrderEvent{
		OrderID:    r.OrderID,
		StrategyID: domain.StrategyID(r.StrategyID),
		From:       domain.OrderState(r.FromState),
		To:         domain.OrderState(r.ToState),
		Price:      r.Price,
		Seq:        uint64(r.Seq),
		Reason:     r.Reason,
		At:         r.At.UTC(),
	}
}

type equityRow struct {
	StrategyID string    `db:"strategy_id"`
	Day        time.Time `db:"day"`
	Cash       float64   `db:"cash"`
	Equity     float64   `db:"equity"`
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
