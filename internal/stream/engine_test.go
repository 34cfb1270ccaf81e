package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DroneOsDev/DroneOS/internal/derive"
	"github.com/DroneOsDev/DroneOS/internal/events"
	"github.com/DroneOsDev/DroneOS/internal/ledger"
	"github.com/DroneOsDev/DroneOS/internal/store"
	"github.com/DroneOsDev/DroneOS/internal/vault"
)

func addr(b byte) ledger.Address {
	var a ledger.Address
	a[0] = b
	return a
}

const t0 = int64(1_700_000_000)

var (
	payer     = addr(1)
	payee     = addr(2)
	authority = addr(0xAA)
)

func newTestEngine(t *testing.T) (*Engine, *vault.Memory, *ledger.ManualClock) {
	t.Helper()
	clock := ledger.NewManualClock(t0)
	v := vault.NewMemory()
	eng := NewEngine(store.NewMemory(), v, clock, nil, nil)
	_, err := eng.Initialize(authority)
	require.NoError(t, err)
	v.Credit(payer, 100_000_000)
	return eng, v, clock
}

func balance(t *testing.T, v *vault.Memory, a ledger.Address) uint64 {
	t.Helper()
	b, err := v.Balance(a)
	require.NoError(t, err)
	return b
}

func createTestStream(t *testing.T, eng *Engine, rate, duration uint64, autoTerminate bool) ledger.Address {
	t.Helper()
	streamAddr, err := eng.CreateStream(payer, CreateStreamParams{
		Payee:         payee,
		RatePerSecond: rate,
		MaxDuration:   duration,
		AutoTerminate: autoTerminate,
	})
	require.NoError(t, err)
	return streamAddr
}

func TestCreateStreamFundsEscrow(t *testing.T) {
	eng, v, _ := newTestEngine(t)

	streamAddr := createTestStream(t, eng, 100, 600, false)
	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, s.Status)
	assert.Equal(t, uint64(60_000), s.EscrowBalance)
	assert.Equal(t, t0, s.CreatedAt)
	assert.Nil(t, s.TaskID)

	escrowAddr, _ := derive.Escrow(streamAddr)
	assert.Equal(t, uint64(60_000), balance(t, v, escrowAddr))
	assert.Equal(t, uint64(100_000_000-60_000), balance(t, v, payer))

	cfg, err := eng.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), cfg.TotalStreams)
}

func TestCreateStreamValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	cases := []struct {
		name   string
		params CreateStreamParams
	}{
		{"zero rate", CreateStreamParams{Payee: payee, RatePerSecond: 0, MaxDuration: 600}},
		{"duration below minimum", CreateStreamParams{Payee: payee, RatePerSecond: 100, MaxDuration: 59}},
		{"duration above maximum", CreateStreamParams{Payee: payee, RatePerSecond: 100, MaxDuration: DefaultMaxDuration + 1}},
		{"grace period too long", CreateStreamParams{Payee: payee, RatePerSecond: 100, MaxDuration: 600, GracePeriod: 301}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.CreateStream(payer, tc.params)
			require.Error(t, err)
			assert.True(t, ledger.IsValidation(err), "got %v", err)
		})
	}
}

func TestCreateStreamInsufficientFunds(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	// Escrow would be 2^32 * 600, far beyond the payer's balance.
	_, err := eng.CreateStream(payer, CreateStreamParams{
		Payee:         payee,
		RatePerSecond: 1 << 32,
		MaxDuration:   600,
	})
	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))
}

func TestStartStream(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)

	err := eng.Start(payee, streamAddr)
	assert.True(t, ledger.IsAuthorization(err))

	require.NoError(t, eng.Start(payer, streamAddr))
	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, s.Status)
	assert.Equal(t, t0, s.StartedAt)
	assert.Equal(t, t0, s.LastTickAt)

	err = eng.Start(payer, streamAddr)
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))
}

func TestTickPaysElapsedDebt(t *testing.T) {
	eng, v, clock := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)
	require.NoError(t, eng.Start(payer, streamAddr))

	clock.Advance(10)
	paid, err := eng.Tick(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), paid)

	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), s.TotalPaid)
	assert.Equal(t, uint64(59_000), s.EscrowBalance)
	assert.Equal(t, uint32(1), s.TotalTicks)
	assert.Equal(t, t0+10, s.LastTickAt)

	// 1000 at 10 bps truncates to a zero fee.
	assert.Equal(t, uint64(1000), balance(t, v, payee))
}

func TestTickZeroElapsedIsNoOp(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)
	require.NoError(t, eng.Start(payer, streamAddr))

	paid, err := eng.Tick(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), paid)

	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), s.TotalTicks)
	assert.Equal(t, uint64(0), s.TotalPaid)
}

func TestTickOnInactiveStreamIsNoOp(t *testing.T) {
	eng, _, clock := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)

	// Pending stream: nothing accrues.
	clock.Advance(100)
	paid, err := eng.Tick(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), paid)
}

func TestTickDepletesAndAutoTerminates(t *testing.T) {
	eng, v, clock := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 60, true)
	require.NoError(t, eng.Start(payer, streamAddr))

	// 100 seconds elapsed but only 60 seconds of escrow: the payee gets
	// the remainder and the stream completes, never going negative.
	clock.Advance(100)
	paid, err := eng.Tick(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(6000), paid)

	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, uint64(0), s.EscrowBalance)
	assert.Equal(t, uint64(6000), s.TotalPaid)

	escrowAddr, _ := derive.Escrow(streamAddr)
	assert.Equal(t, uint64(0), balance(t, v, escrowAddr))

	// Further ticks on the completed stream pay nothing.
	clock.Advance(50)
	paid, err = eng.Tick(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), paid)
}

func TestTickPublishesTerminatedOnce(t *testing.T) {
	clock := ledger.NewManualClock(t0)
	v := vault.NewMemory()
	bus := events.NewBus(nil)
	eng := NewEngine(store.NewMemory(), v, clock, bus, nil)
	_, err := eng.Initialize(authority)
	require.NoError(t, err)
	v.Credit(payer, 100_000_000)

	streamAddr := createTestStream(t, eng, 100, 60, true)
	require.NoError(t, eng.Start(payer, streamAddr))

	id, ch := bus.Subscribe(16)
	defer bus.Unsubscribe(id)

	// Deplete the escrow, then keep ticking the completed stream.
	clock.Advance(100)
	_, err = eng.Tick(streamAddr)
	require.NoError(t, err)
	clock.Advance(50)
	_, err = eng.Tick(streamAddr)
	require.NoError(t, err)
	clock.Advance(50)
	_, err = eng.Tick(streamAddr)
	require.NoError(t, err)

	// Only the tick that completed the stream announces termination.
	terminated := 0
	for {
		select {
		case ev := <-ch:
			if ev.Topic == events.TopicStreamTerminated {
				terminated++
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, terminated)
}

func TestTickConservation(t *testing.T) {
	eng, v, clock := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)
	require.NoError(t, eng.Start(payer, streamAddr))

	for i := 0; i < 12; i++ {
		clock.Advance(7)
		_, err := eng.Tick(streamAddr)
		require.NoError(t, err)
	}

	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	escrowAddr, _ := derive.Escrow(streamAddr)

	// Funded escrow splits exactly between payments and what remains.
	assert.Equal(t, uint64(60_000), s.TotalPaid+s.EscrowBalance)
	assert.Equal(t, s.EscrowBalance, balance(t, v, escrowAddr))
	assert.Equal(t, s.TotalPaid, balance(t, v, payee)+balance(t, v, authority))
	assert.Equal(t, uint32(12), s.TotalTicks)
}

func TestProtocolFee(t *testing.T) {
	eng, v, clock := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 10_000, 100, false)
	require.NoError(t, eng.Start(payer, streamAddr))

	clock.Advance(50)
	paid, err := eng.Tick(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), paid)

	// 10 bps of 500000.
	assert.Equal(t, uint64(500), balance(t, v, authority))
	assert.Equal(t, uint64(499_500), balance(t, v, payee))
}

func TestPauseSettlesThenFreezes(t *testing.T) {
	eng, _, clock := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)
	require.NoError(t, eng.Start(payer, streamAddr))

	clock.Advance(5)
	err := eng.Pause(payee, streamAddr)
	assert.True(t, ledger.IsAuthorization(err))

	require.NoError(t, eng.Pause(payer, streamAddr))
	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusPaused, s.Status)
	assert.Equal(t, uint64(500), s.TotalPaid)

	// Paused time accrues nothing.
	clock.Advance(1000)
	paid, err := eng.Tick(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), paid)

	err = eng.Pause(payer, streamAddr)
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))
}

func TestResumeRestartsWindow(t *testing.T) {
	eng, _, clock := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)
	require.NoError(t, eng.Start(payer, streamAddr))

	err := eng.Resume(payer, streamAddr)
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))

	require.NoError(t, eng.Pause(payer, streamAddr))
	clock.Advance(1000)
	require.NoError(t, eng.Resume(payer, streamAddr))

	clock.Advance(3)
	paid, err := eng.Tick(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(300), paid)
}

func TestTerminateSettlesAndRefunds(t *testing.T) {
	eng, v, clock := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)
	require.NoError(t, eng.Start(payer, streamAddr))

	clock.Advance(10)
	err := eng.Terminate(addr(9), streamAddr, "not a party")
	assert.True(t, ledger.IsAuthorization(err))

	require.NoError(t, eng.Terminate(payee, streamAddr, "job done"))
	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, uint64(1000), s.TotalPaid)
	assert.Equal(t, uint64(0), s.EscrowBalance)

	// Remaining 59000 returned to the payer.
	assert.Equal(t, uint64(100_000_000-1000), balance(t, v, payer))

	err = eng.Terminate(payer, streamAddr, "again")
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))
}

func TestTerminatePausedStream(t *testing.T) {
	eng, v, clock := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)
	require.NoError(t, eng.Start(payer, streamAddr))

	clock.Advance(10)
	require.NoError(t, eng.Pause(payer, streamAddr))
	clock.Advance(500)

	require.NoError(t, eng.Terminate(payer, streamAddr, "wrap up"))
	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), s.TotalPaid)
	assert.Equal(t, uint64(100_000_000-1000), balance(t, v, payer))
}

func TestCancelPendingStream(t *testing.T) {
	eng, v, _ := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)

	err := eng.CancelStream(payee, streamAddr)
	assert.True(t, ledger.IsAuthorization(err))

	require.NoError(t, eng.CancelStream(payer, streamAddr))
	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, s.Status)
	assert.Equal(t, uint64(100_000_000), balance(t, v, payer))
}

func TestCancelStartedStreamFails(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)
	require.NoError(t, eng.Start(payer, streamAddr))

	err := eng.CancelStream(payer, streamAddr)
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))
}

func TestTopUpEscrow(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)

	err := eng.TopUpEscrow(payer, streamAddr, 0)
	assert.True(t, ledger.IsValidation(err))

	require.NoError(t, eng.TopUpEscrow(payer, streamAddr, 5000))
	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(65_000), s.EscrowBalance)

	require.NoError(t, eng.CancelStream(payer, streamAddr))
	err = eng.TopUpEscrow(payer, streamAddr, 100)
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))
}

func TestLinkToTaskIsOneShot(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)

	require.NoError(t, eng.LinkToTask(payer, streamAddr, addr(7)))
	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	require.NotNil(t, s.TaskID)
	assert.Equal(t, addr(7), *s.TaskID)

	err = eng.LinkToTask(payer, streamAddr, addr(8))
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))
}

func TestCurrentDebtAndRemainingTime(t *testing.T) {
	eng, _, clock := newTestEngine(t)
	streamAddr := createTestStream(t, eng, 100, 600, false)

	debt, err := eng.CurrentDebt(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), debt)

	require.NoError(t, eng.Start(payer, streamAddr))
	clock.Advance(10)

	debt, err = eng.CurrentDebt(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), debt)

	remaining, err := eng.RemainingTime(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(590), remaining)
}

func TestStreamCodecRoundTrip(t *testing.T) {
	task := addr(9)
	s := &PaymentStream{
		Payer:         payer,
		Payee:         payee,
		RatePerSecond: 100,
		MaxDuration:   600,
		GracePeriod:   60,
		AutoTerminate: true,
		Status:        StatusPaused,
		CreatedAt:     t0,
		StartedAt:     t0 + 5,
		LastTickAt:    t0 + 42,
		TotalPaid:     3700,
		TotalTicks:    3,
		EscrowBalance: 56_300,
		TaskID:        &task,
		EscrowBump:    254,
		Bump:          253,
	}
	data, err := s.Encode()
	require.NoError(t, err)

	got, err := DecodeStream(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)

	s.TaskID = nil
	data2, err := s.Encode()
	require.NoError(t, err)
	got2, err := DecodeStream(data2)
	require.NoError(t, err)
	assert.Nil(t, got2.TaskID)
	assert.Len(t, data, len(data2)+ledger.AddressLen)
}

func TestDecodeStreamRejectsCorruption(t *testing.T) {
	s := &PaymentStream{Payer: payer, Payee: payee, RatePerSecond: 1, MaxDuration: 60}
	data, err := s.Encode()
	require.NoError(t, err)

	_, err = DecodeStream(data[:20])
	assert.True(t, ledger.IsDecode(err))

	_, err = DecodeStream(append(append([]byte{}, data...), 1, 2))
	assert.True(t, ledger.IsDecode(err))

	bad := append([]byte{}, data...)
	bad[0] ^= 0xFF
	_, err = DecodeStream(bad)
	assert.True(t, ledger.IsDecode(err))
}

func TestExecuteDispatch(t *testing.T) {
	eng, _, clock := newTestEngine(t)

	create, err := (&CreateStreamArgs{
		Payee:         payee,
		RatePerSecond: 100,
		MaxDuration:   600,
	}).Encode()
	require.NoError(t, err)
	require.NoError(t, eng.Execute(payer, create))

	streamAddr, _ := derive.Stream(payer, payee, t0)
	start, err := EncodeStart(streamAddr)
	require.NoError(t, err)
	require.NoError(t, eng.Execute(payer, start))

	clock.Advance(10)
	tick, err := EncodeTick(streamAddr)
	require.NoError(t, err)
	require.NoError(t, eng.Execute(addr(77), tick))

	s, err := eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), s.TotalPaid)

	term, err := (&TerminateArgs{Stream: streamAddr, Reason: "done"}).Encode()
	require.NoError(t, err)
	require.NoError(t, eng.Execute(payee, term))

	s, err = eng.GetStream(streamAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, s.Status)
}
