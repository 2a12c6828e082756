package notify

// Event types emitted by the sniper pipeline. Operators list the ones they
// want forwarded in the [notify] config section; an empty list forwards all.
const (
	// EventSnipeDispatched fires when a sniper passes its filters and a job
	// is enqueued for execution.
	EventSnipeDispatched = "snipe_dispatched"
	// EventSnipeExecuted fires when a buy lands and a position is recorded.
	EventSnipeExecuted = "snipe_executed"
	// EventSnipeFailed fires when a buy attempt fails on-chain.
	EventSnipeFailed = "snipe_failed"
	// EventSniperDeactivated fires when a sniper is switched off due to a
	// confirmed funding shortfall.
	EventSniperDeactivated = "sniper_deactivated"
	// EventPositionClosed fires when automation or a manual close sells a
	// position out.
	EventPositionClosed = "position_closed"
	// EventSellFailed fires when a triggered sell fails and the position is
	// reverted to open.
	EventSellFailed = "sell_failed"
)
