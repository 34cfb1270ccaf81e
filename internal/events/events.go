// Package events carries the typed notifications every mutating transition
// publishes. Consumers subscribe through the Bus; the websocket broadcaster
// relays them to external dashboards.
package events

// Topic names, one per event type.
const (
	TopicRobotRegistered   = "robot.registered"
	TopicCapabilityAdded   = "robot.capability_added"
	TopicRobotStatus       = "robot.status_changed"
	TopicReputationUpdated = "robot.reputation_updated"
	TopicRobotVerified     = "robot.verified"
	TopicRobotDeactivated  = "robot.deactivated"

	TopicStreamCreated    = "stream.created"
	TopicStreamStarted    = "stream.started"
	TopicStreamTick       = "stream.tick"
	TopicStreamPaused     = "stream.paused"
	TopicStreamResumed    = "stream.resumed"
	TopicStreamTerminated = "stream.terminated"
	TopicStreamCancelled  = "stream.cancelled"
	TopicEscrowToppedUp   = "stream.escrow_topped_up"

	TopicTaskCreated      = "task.created"
	TopicBidSubmitted     = "task.bid_submitted"
	TopicBidRejected      = "task.bid_rejected"
	TopicBidWithdrawn     = "task.bid_withdrawn"
	TopicTaskAssigned     = "task.assigned"
	TopicTaskStarted      = "task.started"
	TopicTaskProgress     = "task.progress"
	TopicTaskPending      = "task.pending_verification"
	TopicTaskCompleted    = "task.completed"
	TopicTaskDisputed     = "task.disputed"
	TopicTaskCancelled    = "task.cancelled"
	TopicTaskAborted      = "task.aborted"

	TopicTokensStaked    = "staking.staked"
	TopicRewardsClaimed  = "staking.rewards_claimed"
	TopicTokensUnstaked  = "staking.unstaked"
	TopicOperatorStaked  = "staking.operator_staked"
	TopicOperatorSlashed = "staking.operator_slashed"
)

// Event pairs a topic with a JSON-serializable payload.
type Event struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

// Payload structs. Addresses are rendered in their Base58 string form so the
// payloads stay stable for external consumers.

type RobotRegistered struct {
	Robot     string `json:"robot"`
	DeviceID  string `json:"device_id"`
	Operator  string `json:"operator"`
	Class     string `json:"class"`
	Timestamp int64  `json:"timestamp"`
}

type CapabilityAdded struct {
	Robot      string `json:"robot"`
	Capability string `json:"capability"`
	Level      uint8  `json:"level"`
	ValidUntil int64  `json:"valid_until"`
}

type RobotStatusChanged struct {
	Robot     string `json:"robot"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Timestamp int64  `json:"timestamp"`
}

type ReputationUpdated struct {
	Robot    string `json:"robot"`
	OldScore uint16 `json:"old_score"`
	NewScore uint16 `json:"new_score"`
	Delta    int32  `json:"delta"`
}

type RobotVerified struct {
	Robot      string `json:"robot"`
	Capability string `json:"capability"`
	VerifiedAt int64  `json:"verified_at"`
}

type RobotDeactivated struct {
	Robot string `json:"robot"`
}

type StreamCreated struct {
	Stream        string `json:"stream"`
	Payer         string `json:"payer"`
	Payee         string `json:"payee"`
	RatePerSecond uint64 `json:"rate_per_second"`
	EscrowAmount  uint64 `json:"escrow_amount"`
	Timestamp     int64  `json:"timestamp"`
}

type StreamStarted struct {
	Stream    string `json:"stream"`
	StartedAt int64  `json:"started_at"`
}

type StreamTick struct {
	Stream          string `json:"stream"`
	TickNumber      uint32 `json:"tick_number"`
	Amount          uint64 `json:"amount"`
	TotalPaid       uint64 `json:"total_paid"`
	EscrowRemaining uint64 `json:"escrow_remaining"`
	Timestamp       int64  `json:"timestamp"`
}

type StreamPaused struct {
	Stream    string `json:"stream"`
	Timestamp int64  `json:"timestamp"`
}

type StreamResumed struct {
	Stream    string `json:"stream"`
	Timestamp int64  `json:"timestamp"`
}

type StreamTerminated struct {
	Stream    string `json:"stream"`
	Reason    string `json:"reason"`
	TotalPaid uint64 `json:"total_paid"`
	Timestamp int64  `json:"timestamp"`
}

type StreamCancelled struct {
	Stream   string `json:"stream"`
	Refunded uint64 `json:"refunded"`
}

type EscrowToppedUp struct {
	Stream     string `json:"stream"`
	Amount     uint64 `json:"amount"`
	NewBalance uint64 `json:"new_balance"`
}

type TaskCreated struct {
	Task      string `json:"task"`
	Creator   string `json:"creator"`
	Title     string `json:"title"`
	Reward    uint64 `json:"reward"`
	ExpiresAt int64  `json:"expires_at"`
}

type BidSubmitted struct {
	Task              string `json:"task"`
	Bid               string `json:"bid"`
	Robot             string `json:"robot"`
	ProposedRate      uint64 `json:"proposed_rate"`
	EstimatedDuration uint32 `json:"estimated_duration"`
}

type BidRejected struct {
	Task string `json:"task"`
	Bid  string `json:"bid"`
}

type BidWithdrawn struct {
	Bid string `json:"bid"`
}

type TaskAssigned struct {
	Task      string `json:"task"`
	Robot     string `json:"robot"`
	Rate      uint64 `json:"rate"`
	Timestamp int64  `json:"timestamp"`
}

type TaskStarted struct {
	Task      string `json:"task"`
	Robot     string `json:"robot"`
	Stream    string `json:"stream"`
	Timestamp int64  `json:"timestamp"`
}

type TaskProgressUpdated struct {
	Task     string `json:"task"`
	Progress uint8  `json:"progress"`
}

type TaskPendingVerification struct {
	Task      string `json:"task"`
	Timestamp int64  `json:"timestamp"`
}

type TaskCompleted struct {
	Task      string `json:"task"`
	Robot     string `json:"robot"`
	TotalPaid uint64 `json:"total_paid"`
	Timestamp int64  `json:"timestamp"`
}

type TaskDisputed struct {
	Task      string `json:"task"`
	Timestamp int64  `json:"timestamp"`
}

type TaskCancelled struct {
	Task      string `json:"task"`
	Timestamp int64  `json:"timestamp"`
}

type TaskAborted struct {
	Task      string `json:"task"`
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

type TokensStaked struct {
	User       string `json:"user"`
	Amount     uint64 `json:"amount"`
	LockDays   uint16 `json:"lock_days"`
	Multiplier uint16 `json:"multiplier"`
}

type RewardsClaimed struct {
	User   string `json:"user"`
	Amount uint64 `json:"amount"`
}

type TokensUnstaked struct {
	User           string `json:"user"`
	Amount         uint64 `json:"amount"`
	RewardsClaimed uint64 `json:"rewards_claimed"`
}

type OperatorStakeCreated struct {
	Operator string `json:"operator"`
	Amount   uint64 `json:"amount"`
}

type OperatorSlashed struct {
	Operator      string `json:"operator"`
	Amount        uint64 `json:"amount"`
	Reason        string `json:"reason"`
	NewReputation uint16 `json:"new_reputation"`
}
