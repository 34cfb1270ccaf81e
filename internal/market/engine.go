package market

import (
	"log/slog"

	"github.com/DroneOsDev/DroneOS/internal/derive"
	"github.com/DroneOsDev/DroneOS/internal/events"
	"github.com/DroneOsDev/DroneOS/internal/ledger"
	"github.com/DroneOsDev/DroneOS/internal/registry"
	"github.com/DroneOsDev/DroneOS/internal/store"
	"github.com/DroneOsDev/DroneOS/internal/stream"
	"github.com/DroneOsDev/DroneOS/internal/vault"
)

// Engine executes marketplace transitions. Cross-component effects, the
// payment stream and the robot's reputation, commit in the same store
// transaction as the task they belong to.
type Engine struct {
	store   store.Store
	vault   vault.Vault
	clock   ledger.Clock
	streams *stream.Engine
	bus     *events.Bus
	logger  *slog.Logger
}

// NewEngine wires a market engine. streams must share the engine's store,
// vault and clock. bus and logger may be nil.
func NewEngine(st store.Store, v vault.Vault, clock ledger.Clock, streams *stream.Engine, bus *events.Bus, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   st,
		vault:   v,
		clock:   clock,
		streams: streams,
		bus:     bus,
		logger:  logger.With("component", "market"),
	}
}

// Initialize creates the singleton market account under authority.
// autoRejectSiblings controls whether accepting a bid also rejects the
// sibling bids the caller names.
func (e *Engine) Initialize(authority ledger.Address, autoRejectSiblings bool) (ledger.Address, error) {
	addr, bump := derive.Market()

	err := e.store.Update(func(tx store.Tx) error {
		exists, err := tx.Has(addr)
		if err != nil {
			return err
		}
		if exists {
			return ledger.NewStateError(ledger.CodeExists, "market already initialized")
		}
		m := &Market{
			Authority:          authority,
			FeeBasisPoints:     DefaultFeeBasisPoints,
			AutoRejectSiblings: autoRejectSiblings,
			Bump:               bump,
		}
		data, err := m.Encode()
		if err != nil {
			return err
		}
		return tx.Put(addr, data)
	})
	if err != nil {
		return ledger.ZeroAddress, err
	}

	e.logger.Info("market initialized", "address", addr, "authority", authority)
	return addr, nil
}

// CreateTaskParams carries the terms of a new task.
type CreateTaskParams struct {
	Title                string
	Description          string
	Class                registry.RobotClass
	RequiredCapabilities []registry.Capability
	MinReputation        uint16
	Reward               uint64
	RatePerSecond        uint64
	EstimatedDuration    uint32
	Priority             uint8
	ExpiresIn            int64
}

// CreateTask posts an open task. The task address is derived from the
// creator and the market's running task counter.
func (e *Engine) CreateTask(creator ledger.Address, p CreateTaskParams) (ledger.Address, error) {
	if err := validateTaskParams(p); err != nil {
		return ledger.ZeroAddress, err
	}
	now := e.clock.Now()
	marketAddr, _ := derive.Market()

	var taskAddr ledger.Address
	err := e.store.Update(func(tx store.Tx) error {
		m, err := loadMarket(tx, marketAddr)
		if err != nil {
			return err
		}

		var bump uint8
		taskAddr, bump = derive.Task(creator, m.TotalTasks)
		task := &Task{
			Creator:              creator,
			Title:                p.Title,
			Description:          p.Description,
			Class:                p.Class,
			RequiredCapabilities: p.RequiredCapabilities,
			MinReputation:        p.MinReputation,
			Reward:               p.Reward,
			RatePerSecond:        p.RatePerSecond,
			EstimatedDuration:    p.EstimatedDuration,
			Priority:             p.Priority,
			Status:               TaskOpen,
			CreatedAt:            now,
			ExpiresAt:            now + p.ExpiresIn,
			Bump:                 bump,
		}
		if err := saveTask(tx, taskAddr, task); err != nil {
			return err
		}

		m.TotalTasks++
		return saveMarket(tx, marketAddr, m)
	})
	if err != nil {
		return ledger.ZeroAddress, err
	}

	e.logger.Info("task created", "task", taskAddr, "creator", creator, "reward", p.Reward)
	e.bus.Publish(events.TopicTaskCreated, events.TaskCreated{
		Task:      taskAddr.String(),
		Creator:   creator.String(),
		Title:     p.Title,
		Reward:    p.Reward,
		ExpiresAt: now + p.ExpiresIn,
	})
	return taskAddr, nil
}

// SubmitBid offers a robot for an open task. The robot must match the
// task's class, reputation floor and every required capability, and must be
// available for work.
func (e *Engine) SubmitBid(signer, taskAddr, robotAddr ledger.Address, proposedRate uint64, estimatedDuration uint32, message string) (ledger.Address, error) {
	if proposedRate == 0 {
		return ledger.ZeroAddress, ledger.NewValidationError(ledger.CodeBadRate, "proposed rate must be positive")
	}
	if len(message) > MaxMessageLen {
		return ledger.ZeroAddress, ledger.NewValidationError(ledger.CodeMsgTooLong, "bid message too long").
			WithContext("length", len(message))
	}
	now := e.clock.Now()

	var bidAddr ledger.Address
	err := e.store.Update(func(tx store.Tx) error {
		task, err := loadTask(tx, taskAddr)
		if err != nil {
			return err
		}
		if err := requireOpen(task, now); err != nil {
			return err
		}

		robot, err := registry.LoadRobotTx(tx, robotAddr)
		if err != nil {
			return err
		}
		if !robot.Operator.Equal(signer) {
			return ledger.NewAuthorizationError("only the robot's operator may bid")
		}
		if !robot.IsAvailable() {
			return ledger.NewStateError(ledger.CodeRobotNotActive, "robot is not available").
				WithContext("status", robot.Status.String())
		}
		if robot.Class != task.Class {
			return ledger.NewValidationError(ledger.CodeBadAddress, "robot class does not match task").
				WithContext("robot_class", robot.Class.String()).
				WithContext("task_class", task.Class.String())
		}
		if robot.Reputation < task.MinReputation {
			return ledger.NewStateError(ledger.CodeRobotNotActive, "robot reputation below task floor").
				WithContext("reputation", robot.Reputation).
				WithContext("required", task.MinReputation)
		}
		for _, cap := range task.RequiredCapabilities {
			if _, err := registry.CheckRobotFitTx(tx, robotAddr, cap, now); err != nil {
				return err
			}
		}

		var bump uint8
		bidAddr, bump = derive.Bid(taskAddr, robotAddr)
		exists, err := tx.Has(bidAddr)
		if err != nil {
			return err
		}
		if exists {
			return ledger.NewStateError(ledger.CodeExists, "robot already bid on this task")
		}

		bid := &Bid{
			Task:              taskAddr,
			Robot:             robotAddr,
			Operator:          signer,
			ProposedRate:      proposedRate,
			EstimatedDuration: estimatedDuration,
			Message:           message,
			Status:            BidPending,
			SubmittedAt:       now,
			Bump:              bump,
		}
		if err := saveBid(tx, bidAddr, bid); err != nil {
			return err
		}

		task.BidsCount++
		return saveTask(tx, taskAddr, task)
	})
	if err != nil {
		return ledger.ZeroAddress, err
	}

	e.bus.Publish(events.TopicBidSubmitted, events.BidSubmitted{
		Task:              taskAddr.String(),
		Bid:               bidAddr.String(),
		Robot:             robotAddr.String(),
		ProposedRate:      proposedRate,
		EstimatedDuration: estimatedDuration,
	})
	return bidAddr, nil
}

// AcceptBid assigns the task to the bidding robot and adopts the bid's rate
// as the task's streaming rate. When the market auto-rejects siblings the
// caller supplies the other bid addresses; they flip to Rejected in the
// same transaction.
func (e *Engine) AcceptBid(signer, taskAddr, bidAddr ledger.Address, siblings []ledger.Address) error {
	now := e.clock.Now()
	marketAddr, _ := derive.Market()

	var robotAddr ledger.Address
	var rate uint64
	err := e.store.Update(func(tx store.Tx) error {
		task, err := loadTask(tx, taskAddr)
		if err != nil {
			return err
		}
		if !task.Creator.Equal(signer) {
			return ledger.NewAuthorizationError("only the task creator may accept a bid")
		}
		if err := requireOpen(task, now); err != nil {
			return err
		}

		bid, err := loadBid(tx, bidAddr)
		if err != nil {
			return err
		}
		if !bid.Task.Equal(taskAddr) {
			return ledger.NewValidationError(ledger.CodeBidTaskMismatch, "bid belongs to another task")
		}
		if bid.Status != BidPending {
			return ledger.NewStateError(ledger.CodeBidNotPending, "bid is not pending").
				WithContext("status", bid.Status.String())
		}

		bid.Status = BidAccepted
		if err := saveBid(tx, bidAddr, bid); err != nil {
			return err
		}

		m, err := loadMarket(tx, marketAddr)
		if err != nil {
			return err
		}
		if m.AutoRejectSiblings {
			for _, sibAddr := range siblings {
				if sibAddr.Equal(bidAddr) {
					continue
				}
				sib, err := loadBid(tx, sibAddr)
				if err != nil {
					return err
				}
				if !sib.Task.Equal(taskAddr) {
					return ledger.NewValidationError(ledger.CodeBidTaskMismatch, "sibling bid belongs to another task").
						WithContext("bid", sibAddr.String())
				}
				if sib.Status != BidPending {
					continue
				}
				sib.Status = BidRejected
				if err := saveBid(tx, sibAddr, sib); err != nil {
					return err
				}
			}
		}

		robotAddr = bid.Robot
		rate = bid.ProposedRate
		task.Status = TaskAssigned
		task.AssignedRobot = &robotAddr
		task.AssignedAt = &now
		task.RatePerSecond = bid.ProposedRate
		return saveTask(tx, taskAddr, task)
	})
	if err != nil {
		return err
	}

	e.logger.Info("bid accepted", "task", taskAddr, "robot", robotAddr, "rate", rate)
	e.bus.Publish(events.TopicTaskAssigned, events.TaskAssigned{
		Task:      taskAddr.String(),
		Robot:     robotAddr.String(),
		Rate:      rate,
		Timestamp: now,
	})
	return nil
}

// RejectBid declines a pending bid without touching the task.
func (e *Engine) RejectBid(signer, taskAddr, bidAddr ledger.Address) error {
	err := e.store.Update(func(tx store.Tx) error {
		task, err := loadTask(tx, taskAddr)
		if err != nil {
			return err
		}
		if !task.Creator.Equal(signer) {
			return ledger.NewAuthorizationError("only the task creator may reject a bid")
		}
		bid, err := loadBid(tx, bidAddr)
		if err != nil {
			return err
		}
		if !bid.Task.Equal(taskAddr) {
			return ledger.NewValidationError(ledger.CodeBidTaskMismatch, "bid belongs to another task")
		}
		if bid.Status != BidPending {
			return ledger.NewStateError(ledger.CodeBidNotPending, "bid is not pending").
				WithContext("status", bid.Status.String())
		}
		bid.Status = BidRejected
		return saveBid(tx, bidAddr, bid)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicBidRejected, events.BidRejected{
		Task: taskAddr.String(),
		Bid:  bidAddr.String(),
	})
	return nil
}

// WithdrawBid lets the bidding operator retract a pending bid.
func (e *Engine) WithdrawBid(signer, bidAddr ledger.Address) error {
	err := e.store.Update(func(tx store.Tx) error {
		bid, err := loadBid(tx, bidAddr)
		if err != nil {
			return err
		}
		if !bid.Operator.Equal(signer) {
			return ledger.NewAuthorizationError("only the bidding operator may withdraw")
		}
		if bid.Status != BidPending {
			return ledger.NewStateError(ledger.CodeBidNotPending, "bid is not pending").
				WithContext("status", bid.Status.String())
		}
		bid.Status = BidWithdrawn
		return saveBid(tx, bidAddr, bid)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicBidWithdrawn, events.BidWithdrawn{Bid: bidAddr.String()})
	return nil
}

// StartTask moves an assigned task into execution. The assigned robot's
// operator signs; the creator already committed the funds by accepting the
// bid. A payment stream opens from creator to the operator at the accepted
// rate, already active and linked to the task. The robot goes Busy.
func (e *Engine) StartTask(signer, taskAddr ledger.Address) error {
	now := e.clock.Now()

	var streamAddr, robotAddr ledger.Address
	err := e.store.Update(func(tx store.Tx) error {
		task, err := loadTask(tx, taskAddr)
		if err != nil {
			return err
		}
		if task.Status != TaskAssigned {
			return ledger.NewStateError(ledger.CodeTaskNotAssigned, "task is not assigned").
				WithContext("status", task.Status.String())
		}
		robotAddr = *task.AssignedRobot

		robot, err := registry.LoadRobotTx(tx, robotAddr)
		if err != nil {
			return err
		}
		if !robot.Operator.Equal(signer) {
			return ledger.NewAuthorizationError("only the assigned robot's operator may start the task")
		}
		if !robot.IsAvailable() {
			return ledger.NewStateError(ledger.CodeRobotNotActive, "assigned robot is no longer available").
				WithContext("status", robot.Status.String())
		}

		streamAddr, err = e.streams.OpenForTaskTx(tx, task.Creator, robot.Operator,
			task.RatePerSecond, uint64(task.EstimatedDuration), taskAddr, now)
		if err != nil {
			return err
		}

		robot.Status = registry.StatusBusy
		robot.LastActiveAt = now
		if err := registry.SaveRobotTx(tx, robotAddr, robot); err != nil {
			return err
		}

		task.Status = TaskInProgress
		task.StartedAt = &now
		task.StreamID = &streamAddr
		return saveTask(tx, taskAddr, task)
	})
	if err != nil {
		return err
	}

	e.logger.Info("task started", "task", taskAddr, "robot", robotAddr, "stream", streamAddr)
	e.bus.Publish(events.TopicTaskStarted, events.TaskStarted{
		Task:      taskAddr.String(),
		Robot:     robotAddr.String(),
		Stream:    streamAddr.String(),
		Timestamp: now,
	})
	return nil
}

// UpdateProgress records execution progress. Progress only moves forward.
func (e *Engine) UpdateProgress(signer, taskAddr ledger.Address, progress uint8) error {
	if progress > 100 {
		return ledger.NewValidationError(ledger.CodeBadProgress, "progress exceeds 100").
			WithContext("progress", progress)
	}

	err := e.store.Update(func(tx store.Tx) error {
		task, err := loadTask(tx, taskAddr)
		if err != nil {
			return err
		}
		if task.Status != TaskInProgress {
			return ledger.NewStateError(ledger.CodeTaskNotInProgress, "task is not in progress").
				WithContext("status", task.Status.String())
		}
		if err := e.requireAssignedOperator(tx, task, signer); err != nil {
			return err
		}
		if progress < task.Progress {
			return ledger.NewValidationError(ledger.CodeBadProgress, "progress cannot decrease").
				WithContext("current", task.Progress).
				WithContext("proposed", progress)
		}
		task.Progress = progress
		return saveTask(tx, taskAddr, task)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicTaskProgress, events.TaskProgressUpdated{
		Task:     taskAddr.String(),
		Progress: progress,
	})
	return nil
}

// CompleteTask declares the work done and hands the task to the creator for
// verification. The payment stream settles and pauses so no further time
// accrues while the creator reviews.
func (e *Engine) CompleteTask(signer, taskAddr ledger.Address) error {
	now := e.clock.Now()

	err := e.store.Update(func(tx store.Tx) error {
		task, err := loadTask(tx, taskAddr)
		if err != nil {
			return err
		}
		if task.Status != TaskInProgress {
			return ledger.NewStateError(ledger.CodeTaskNotInProgress, "task is not in progress").
				WithContext("status", task.Status.String())
		}
		if err := e.requireAssignedOperator(tx, task, signer); err != nil {
			return err
		}
		if task.StreamID != nil {
			if err := e.streams.PauseForTaskTx(tx, *task.StreamID, now); err != nil {
				return err
			}
		}
		task.Status = TaskPendingVerification
		task.Progress = 100
		task.CompletedAt = &now
		return saveTask(tx, taskAddr, task)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicTaskPending, events.TaskPendingVerification{
		Task:      taskAddr.String(),
		Timestamp: now,
	})
	return nil
}

// VerifyCompletion is the creator's verdict. Approval finalizes the stream,
// pays the reward (net of the market fee) to the robot's operator, bumps
// the robot's reputation and completion stats, and frees the robot.
// Rejection parks the task in Disputed with the stream still paused;
// resolution happens off the ledger.
func (e *Engine) VerifyCompletion(signer, taskAddr ledger.Address, approved bool) error {
	now := e.clock.Now()
	marketAddr, _ := derive.Market()

	var robotAddr ledger.Address
	var streamPaid uint64
	err := e.store.Update(func(tx store.Tx) error {
		task, err := loadTask(tx, taskAddr)
		if err != nil {
			return err
		}
		if !task.Creator.Equal(signer) {
			return ledger.NewAuthorizationError("only the task creator may verify completion")
		}
		if task.Status != TaskPendingVerification {
			return ledger.NewStateError(ledger.CodeTaskNotVerifiable, "task is not pending verification").
				WithContext("status", task.Status.String())
		}
		robotAddr = *task.AssignedRobot

		if !approved {
			task.Status = TaskDisputed
			if _, _, err := registry.ApplyReputationTx(tx, robotAddr, repPenaltyOnDispute, false, 0, now); err != nil {
				return err
			}
			return saveTask(tx, taskAddr, task)
		}

		if task.StreamID != nil {
			streamPaid, err = e.streams.FinalizeForTaskTx(tx, *task.StreamID, now)
			if err != nil {
				return err
			}
		}

		robot, err := registry.LoadRobotTx(tx, robotAddr)
		if err != nil {
			return err
		}

		m, err := loadMarket(tx, marketAddr)
		if err != nil {
			return err
		}
		if task.Reward > 0 {
			fee, err := ledger.MulDivU64(task.Reward, uint64(m.FeeBasisPoints), bpsDenominator)
			if err != nil {
				return err
			}
			if err := e.vault.Transfer(task.Creator, robot.Operator, task.Reward-fee); err != nil {
				return err
			}
			if fee > 0 {
				if err := e.vault.Transfer(task.Creator, m.Authority, fee); err != nil {
					return err
				}
			}
		}

		if _, _, err := registry.ApplyReputationTx(tx, robotAddr, repRewardOnComplete, true, task.Reward, now); err != nil {
			return err
		}
		// ApplyReputationTx rewrote the robot account; reload before
		// freeing it for new work.
		robot, err = registry.LoadRobotTx(tx, robotAddr)
		if err != nil {
			return err
		}
		robot.Status = registry.StatusAvailable
		if err := registry.SaveRobotTx(tx, robotAddr, robot); err != nil {
			return err
		}

		task.Status = TaskCompleted
		m.TotalCompleted++
		m.TotalVolume, err = ledger.AddU64(m.TotalVolume, task.Reward)
		if err != nil {
			return err
		}
		if err := saveMarket(tx, marketAddr, m); err != nil {
			return err
		}
		return saveTask(tx, taskAddr, task)
	})
	if err != nil {
		return err
	}

	if approved {
		e.logger.Info("task completed", "task", taskAddr, "robot", robotAddr, "stream_paid", streamPaid)
		e.bus.Publish(events.TopicTaskCompleted, events.TaskCompleted{
			Task:      taskAddr.String(),
			Robot:     robotAddr.String(),
			TotalPaid: streamPaid,
			Timestamp: now,
		})
	} else {
		e.logger.Warn("task disputed", "task", taskAddr, "robot", robotAddr)
		e.bus.Publish(events.TopicTaskDisputed, events.TaskDisputed{
			Task:      taskAddr.String(),
			Timestamp: now,
		})
	}
	return nil
}

// CancelTask voids a task that was never assigned.
func (e *Engine) CancelTask(signer, taskAddr ledger.Address) error {
	now := e.clock.Now()

	err := e.store.Update(func(tx store.Tx) error {
		task, err := loadTask(tx, taskAddr)
		if err != nil {
			return err
		}
		if !task.Creator.Equal(signer) {
			return ledger.NewAuthorizationError("only the task creator may cancel")
		}
		if task.Status != TaskOpen {
			return ledger.NewStateError(ledger.CodeTaskNotCancellable, "only an open task can be cancelled").
				WithContext("status", task.Status.String())
		}
		task.Status = TaskCancelled
		return saveTask(tx, taskAddr, task)
	})
	if err != nil {
		return err
	}

	e.bus.Publish(events.TopicTaskCancelled, events.TaskCancelled{
		Task:      taskAddr.String(),
		Timestamp: now,
	})
	return nil
}

// AbortTask ends an assignment before verification. Either side may pull
// the plug: the creator or the assigned robot's operator. Time already
// streamed stays paid; the remaining escrow refunds to the creator, and the
// robot is freed without a reputation change.
func (e *Engine) AbortTask(signer, taskAddr ledger.Address, reason string) error {
	now := e.clock.Now()

	var robotAddr ledger.Address
	err := e.store.Update(func(tx store.Tx) error {
		task, err := loadTask(tx, taskAddr)
		if err != nil {
			return err
		}
		if task.Status != TaskAssigned && task.Status != TaskInProgress {
			return ledger.NewStateError(ledger.CodeTaskNotAbortable, "task cannot be aborted").
				WithContext("status", task.Status.String())
		}
		robotAddr = *task.AssignedRobot

		robot, err := registry.LoadRobotTx(tx, robotAddr)
		if err != nil {
			return err
		}
		if !task.Creator.Equal(signer) && !robot.Operator.Equal(signer) {
			return ledger.NewAuthorizationError("only the creator or the assigned operator may abort")
		}

		if task.StreamID != nil {
			if _, err := e.streams.FinalizeForTaskTx(tx, *task.StreamID, now); err != nil {
				return err
			}
		}

		if robot.Status == registry.StatusBusy {
			robot.Status = registry.StatusAvailable
			robot.LastActiveAt = now
			if err := registry.SaveRobotTx(tx, robotAddr, robot); err != nil {
				return err
			}
		}

		task.Status = TaskFailed
		return saveTask(tx, taskAddr, task)
	})
	if err != nil {
		return err
	}

	e.logger.Info("task aborted", "task", taskAddr, "reason", reason)
	e.bus.Publish(events.TopicTaskAborted, events.TaskAborted{
		Task:      taskAddr.String(),
		Reason:    reason,
		Timestamp: now,
	})
	return nil
}

// IsTaskOpen reports whether the task accepts bids right now.
func (e *Engine) IsTaskOpen(taskAddr ledger.Address) (bool, error) {
	now := e.clock.Now()
	var open bool
	err := e.store.View(func(tx store.Tx) error {
		task, err := loadTask(tx, taskAddr)
		if err != nil {
			return err
		}
		open = task.OpenAt(now)
		return nil
	})
	return open, err
}

// GetTask returns the decoded task account.
func (e *Engine) GetTask(taskAddr ledger.Address) (*Task, error) {
	var task *Task
	err := e.store.View(func(tx store.Tx) error {
		var err error
		task, err = loadTask(tx, taskAddr)
		return err
	})
	return task, err
}

// GetBid returns the decoded bid account.
func (e *Engine) GetBid(bidAddr ledger.Address) (*Bid, error) {
	var bid *Bid
	err := e.store.View(func(tx store.Tx) error {
		var err error
		bid, err = loadBid(tx, bidAddr)
		return err
	})
	return bid, err
}

// GetMarket returns the decoded market account.
func (e *Engine) GetMarket() (*Market, error) {
	addr, _ := derive.Market()
	var m *Market
	err := e.store.View(func(tx store.Tx) error {
		var err error
		m, err = loadMarket(tx, addr)
		return err
	})
	return m, err
}

// requireAssignedOperator checks that signer operates the task's assigned
// robot.
func (e *Engine) requireAssignedOperator(tx store.Tx, task *Task, signer ledger.Address) error {
	if task.AssignedRobot == nil {
		return ledger.NewStateError(ledger.CodeTaskNotAssigned, "task has no assigned robot")
	}
	robot, err := registry.LoadRobotTx(tx, *task.AssignedRobot)
	if err != nil {
		return err
	}
	if !robot.Operator.Equal(signer) {
		return ledger.NewAuthorizationError("only the assigned robot's operator may report").
			WithContext("robot", task.AssignedRobot.String())
	}
	return nil
}

// requireOpen rejects bids and acceptance on closed or expired tasks.
// Expiry is observed, never written back.
func requireOpen(task *Task, now int64) error {
	if task.Status != TaskOpen {
		return ledger.NewStateError(ledger.CodeTaskNotOpen, "task is not open").
			WithContext("status", task.Status.String())
	}
	if now >= task.ExpiresAt {
		return ledger.NewStateError(ledger.CodeTaskExpired, "task listing expired").
			WithContext("expired_at", task.ExpiresAt)
	}
	return nil
}

func validateTaskParams(p CreateTaskParams) error {
	if p.Title == "" || len(p.Title) > MaxTitleLen {
		return ledger.NewValidationError(ledger.CodeTitleTooLong, "title must be 1 to 64 bytes").
			WithContext("length", len(p.Title))
	}
	if len(p.Description) > MaxDescriptionLen {
		return ledger.NewValidationError(ledger.CodeDescTooLong, "description too long").
			WithContext("length", len(p.Description))
	}
	if !p.Class.Valid() {
		return ledger.NewValidationError(ledger.CodeBadAddress, "unknown robot class").
			WithContext("class", uint8(p.Class))
	}
	if len(p.RequiredCapabilities) > MaxRequiredCaps {
		return ledger.NewValidationError(ledger.CodeTooManyCaps, "too many required capabilities").
			WithContext("count", len(p.RequiredCapabilities))
	}
	for _, c := range p.RequiredCapabilities {
		if !c.Valid() {
			return ledger.NewValidationError(ledger.CodeTooManyCaps, "unknown required capability").
				WithContext("capability", uint8(c))
		}
	}
	if p.Reward == 0 {
		return ledger.NewValidationError(ledger.CodeBadReward, "reward must be positive")
	}
	if p.RatePerSecond == 0 {
		return ledger.NewValidationError(ledger.CodeBadRate, "rate must be positive")
	}
	if uint64(p.EstimatedDuration) < stream.DefaultMinDuration || uint64(p.EstimatedDuration) > stream.DefaultMaxDuration {
		return ledger.NewValidationError(ledger.CodeBadDuration, "estimated duration outside streamable bounds").
			WithContext("duration", p.EstimatedDuration)
	}
	if p.Priority < MinPriority || p.Priority > MaxPriority {
		return ledger.NewValidationError(ledger.CodeBadPriority, "priority must be 1 to 5").
			WithContext("priority", p.Priority)
	}
	if p.ExpiresIn <= 0 || p.ExpiresIn > MaxTaskLifetime {
		return ledger.NewValidationError(ledger.CodeBadExpiry, "expiry must be within 7 days").
			WithContext("expires_in", p.ExpiresIn)
	}
	return nil
}

func loadMarket(tx store.Tx, addr ledger.Address) (*Market, error) {
	data, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	return DecodeMarket(data)
}

func saveMarket(tx store.Tx, addr ledger.Address, m *Market) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	return tx.Put(addr, data)
}

func loadTask(tx store.Tx, addr ledger.Address) (*Task, error) {
	data, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	return DecodeTask(data)
}

func saveTask(tx store.Tx, addr ledger.Address, task *Task) error {
	data, err := task.Encode()
	if err != nil {
		return err
	}
	return tx.Put(addr, data)
}

func loadBid(tx store.Tx, addr ledger.Address) (*Bid, error) {
	data, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	return DecodeBid(data)
}

func saveBid(tx store.Tx, addr ledger.Address, bid *Bid) error {
	data, err := bid.Encode()
	if err != nil {
		return err
	}
	return tx.Put(addr, data)
}
