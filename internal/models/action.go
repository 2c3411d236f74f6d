package models

// ActionType enumerates the intents an options strategy can emit.
type ActionType string

const (
	ActionBuyCall      ActionType = "buy_call"
	ActionBuyPut       ActionType = "buy_put"
	ActionSellCall     ActionType = "sell_call"
	ActionSellPut      ActionType = "sell_put"
	ActionBuyStraddle  ActionType = "buy_straddle"
	ActionSellStrangle ActionType = "sell_strangle"
	ActionClose        ActionType = "close"
	ActionCloseGroup   ActionType = "close_group"
	ActionRoll         ActionType = "roll"
	ActionNone         ActionType = "none"
)

// Action is a single options-strategy intent. Exactly one of Contract,
// PositionID, LegGroup, or Underlying carries the target depending on Type.
// ActionNone is purely diagnostic: it carries a Reason and nothing else.
type Action struct {
	Type       ActionType      `json:"type"`
	Contract   *OptionContract `json:"contract,omitempty"`
	PositionID string          `json:"position_id,omitempty"`
	LegGroup   string          `json:"leg_group,omitempty"`
	Underlying string          `json:"underlying,omitempty"`
	Quantity   float64         `json:"quantity,omitempty"`
	TargetDTE  int             `json:"target_dte,omitempty"`
	OTMPct     float64         `json:"otm_pct,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	IsHedge    bool            `json:"is_hedge,omitempty"`
	WheelPhase int             `json:"wheel_phase,omitempty"`
}

// Decision is the structured result of one strategy evaluation. Evaluators
// never return errors through the call chain; failures land in Err with
// Signal zero so the scheduler can log and move on.
type Decision struct {
	Signal  int      `json:"signal"` // -1 sell, 0 hold, +1 buy
	Actions []Action `json:"actions"`
	IVRank  float64  `json:"iv_rank,omitempty"`
	Reason  string   `json:"reason,omitempty"`
	Err     string   `json:"error,omitempty"`
}
