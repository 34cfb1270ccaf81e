package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DroneOsDev/DroneOS/internal/derive"
	"github.com/DroneOsDev/DroneOS/internal/ledger"
	"github.com/DroneOsDev/DroneOS/internal/store"
)

func addr(b byte) ledger.Address {
	var a ledger.Address
	a[0] = b
	return a
}

func deviceID(b byte) [32]byte {
	var d [32]byte
	d[31] = b
	return d
}

const t0 = int64(1_700_000_000)

func newTestEngine(t *testing.T) (*Engine, *ledger.ManualClock, ledger.Address) {
	t.Helper()
	clock := ledger.NewManualClock(t0)
	eng := NewEngine(store.NewMemory(), clock, nil, nil)
	authority := addr(0xAA)
	_, err := eng.Initialize(authority)
	require.NoError(t, err)
	return eng, clock, authority
}

func registerTestRobot(t *testing.T, eng *Engine, operator ledger.Address, dev byte) ledger.Address {
	t.Helper()
	robotAddr, err := eng.RegisterRobot(operator, RegisterRobotParams{
		DeviceID:       deviceID(dev),
		ManufacturerID: "acme-robotics",
		ModelID:        "mk3",
		FirmwareHash:   deviceID(0xFF),
		Class:          ClassDrone,
	})
	require.NoError(t, err)
	return robotAddr
}

func TestInitializeIsIdempotentOnlyOnce(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	_, err := eng.Initialize(addr(0xBB))
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))
}

func TestRegisterRobotCreatesAccount(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	operator := addr(1)

	robotAddr := registerTestRobot(t, eng, operator, 1)
	wantAddr, _ := derive.Robot(deviceID(1))
	assert.Equal(t, wantAddr, robotAddr)

	robot, err := eng.GetRobot(robotAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, robot.Status)
	assert.Equal(t, uint16(0), robot.Reputation)
	assert.Equal(t, operator, robot.Operator)
	assert.Equal(t, t0, robot.RegisteredAt)
	assert.Empty(t, robot.Capabilities)

	reg, err := eng.GetRegistry()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reg.TotalRobots)
	assert.Equal(t, uint64(1), reg.TotalOperators)
}

func TestRegisterRobotRejectsDuplicateDevice(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	registerTestRobot(t, eng, addr(1), 7)

	_, err := eng.RegisterRobot(addr(2), RegisterRobotParams{
		DeviceID:       deviceID(7),
		ManufacturerID: "other",
		ModelID:        "clone",
		Class:          ClassGround,
	})
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))
}

func TestRegisterRobotValidation(t *testing.T) {
	eng, _, _ := newTestEngine(t)

	cases := []struct {
		name   string
		params RegisterRobotParams
	}{
		{"zero device id", RegisterRobotParams{
			ManufacturerID: "acme", ModelID: "mk1", Class: ClassDrone,
		}},
		{"empty manufacturer", RegisterRobotParams{
			DeviceID: deviceID(1), ModelID: "mk1", Class: ClassDrone,
		}},
		{"manufacturer too long", RegisterRobotParams{
			DeviceID:       deviceID(1),
			ManufacturerID: "an-implausibly-long-manufacturer-name",
			ModelID:        "mk1",
			Class:          ClassDrone,
		}},
		{"unknown class", RegisterRobotParams{
			DeviceID: deviceID(1), ManufacturerID: "acme", ModelID: "mk1",
			Class: RobotClass(99),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := eng.RegisterRobot(addr(1), tc.params)
			require.Error(t, err)
			assert.True(t, ledger.IsValidation(err), "got %v", err)
		})
	}
}

func TestOperatorCountedOnce(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	operator := addr(1)
	registerTestRobot(t, eng, operator, 1)
	registerTestRobot(t, eng, operator, 2)
	registerTestRobot(t, eng, addr(2), 3)

	reg, err := eng.GetRegistry()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), reg.TotalRobots)
	assert.Equal(t, uint64(2), reg.TotalOperators)
}

func TestAddCapability(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	operator := addr(1)
	robotAddr := registerTestRobot(t, eng, operator, 1)

	err := eng.AddCapability(operator, robotAddr, CapDelivery, 3, 30)
	require.NoError(t, err)

	robot, err := eng.GetRobot(robotAddr)
	require.NoError(t, err)
	require.Len(t, robot.Capabilities, 1)
	p := robot.Capabilities[0]
	assert.Equal(t, CapDelivery, p.Capability)
	assert.Equal(t, uint8(3), p.CertLevel)
	assert.Equal(t, t0+30*86400, p.ValidUntil)
	assert.Equal(t, operator, p.Issuer)
}

func TestAddCapabilityAppendsWithoutDedup(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	operator := addr(1)
	robotAddr := registerTestRobot(t, eng, operator, 1)

	require.NoError(t, eng.AddCapability(operator, robotAddr, CapDelivery, 2, 10))
	require.NoError(t, eng.AddCapability(operator, robotAddr, CapDelivery, 5, 90))

	robot, err := eng.GetRobot(robotAddr)
	require.NoError(t, err)
	assert.Len(t, robot.Capabilities, 2)
}

func TestAddCapabilityLimits(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	operator := addr(1)
	robotAddr := registerTestRobot(t, eng, operator, 1)

	err := eng.AddCapability(addr(9), robotAddr, CapDelivery, 3, 30)
	assert.True(t, ledger.IsAuthorization(err))

	err = eng.AddCapability(operator, robotAddr, CapDelivery, 0, 30)
	assert.True(t, ledger.IsValidation(err))
	err = eng.AddCapability(operator, robotAddr, CapDelivery, 6, 30)
	assert.True(t, ledger.IsValidation(err))

	for i := 0; i < MaxCapabilities; i++ {
		require.NoError(t, eng.AddCapability(operator, robotAddr, CapDelivery, 1, 30))
	}
	err = eng.AddCapability(operator, robotAddr, CapDelivery, 1, 30)
	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))
}

func TestUpdateStatusUnrestricted(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	operator := addr(1)
	robotAddr := registerTestRobot(t, eng, operator, 1)

	// Any transition between valid states is allowed, including
	// suspended back to available.
	for _, s := range []RobotStatus{StatusSuspended, StatusAvailable, StatusBusy, StatusIdle} {
		require.NoError(t, eng.UpdateStatus(operator, robotAddr, s))
		robot, err := eng.GetRobot(robotAddr)
		require.NoError(t, err)
		assert.Equal(t, s, robot.Status)
	}

	err := eng.UpdateStatus(addr(9), robotAddr, StatusAvailable)
	assert.True(t, ledger.IsAuthorization(err))

	err = eng.UpdateStatus(operator, robotAddr, RobotStatus(42))
	assert.True(t, ledger.IsValidation(err))
}

func TestUpdateReputationClampsAndCounts(t *testing.T) {
	eng, _, authority := newTestEngine(t)
	operator := addr(1)
	robotAddr := registerTestRobot(t, eng, operator, 1)

	// Below zero clamps to zero instead of wrapping.
	require.NoError(t, eng.UpdateReputation(authority, robotAddr, -500, false, 0))
	robot, err := eng.GetRobot(robotAddr)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), robot.Reputation)

	require.NoError(t, eng.UpdateReputation(authority, robotAddr, 20000, false, 0))
	robot, err = eng.GetRobot(robotAddr)
	require.NoError(t, err)
	assert.Equal(t, uint16(10000), robot.Reputation)

	require.NoError(t, eng.UpdateReputation(authority, robotAddr, -100, true, 5_000_000))
	robot, err = eng.GetRobot(robotAddr)
	require.NoError(t, err)
	assert.Equal(t, uint16(9900), robot.Reputation)
	assert.Equal(t, uint32(1), robot.TasksCompleted)
	assert.Equal(t, uint64(5_000_000), robot.TotalEarnings)

	err = eng.UpdateReputation(operator, robotAddr, 100, false, 0)
	assert.True(t, ledger.IsAuthorization(err))
}

func TestVerifyRobot(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	operator := addr(1)
	robotAddr := registerTestRobot(t, eng, operator, 1)
	require.NoError(t, eng.AddCapability(operator, robotAddr, CapInspection, 3, 30))

	// Idle robots are not in service.
	err := eng.VerifyRobot(robotAddr, CapInspection)
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))

	require.NoError(t, eng.UpdateStatus(operator, robotAddr, StatusAvailable))
	assert.NoError(t, eng.VerifyRobot(robotAddr, CapInspection))

	require.NoError(t, eng.UpdateStatus(operator, robotAddr, StatusBusy))
	assert.NoError(t, eng.VerifyRobot(robotAddr, CapInspection))

	// No proof for the capability at all.
	err = eng.VerifyRobot(robotAddr, CapCleaning)
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))

	// Proof expires exactly at validUntil; strictly-greater is required.
	clock.Advance(30 * 86400)
	err = eng.VerifyRobot(robotAddr, CapInspection)
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))
}

func TestMostPermissiveProofWins(t *testing.T) {
	eng, clock, _ := newTestEngine(t)
	operator := addr(1)
	robotAddr := registerTestRobot(t, eng, operator, 1)

	require.NoError(t, eng.AddCapability(operator, robotAddr, CapDelivery, 1, 10))
	require.NoError(t, eng.AddCapability(operator, robotAddr, CapDelivery, 1, 90))
	require.NoError(t, eng.UpdateStatus(operator, robotAddr, StatusAvailable))

	clock.Advance(40 * 86400)
	assert.NoError(t, eng.VerifyRobot(robotAddr, CapDelivery))
}

func TestDeactivateRobot(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	operator := addr(1)
	robotAddr := registerTestRobot(t, eng, operator, 1)

	require.NoError(t, eng.UpdateStatus(operator, robotAddr, StatusBusy))
	err := eng.DeactivateRobot(operator, robotAddr)
	require.Error(t, err)
	assert.True(t, ledger.IsState(err))

	require.NoError(t, eng.UpdateStatus(operator, robotAddr, StatusAvailable))
	err = eng.DeactivateRobot(addr(9), robotAddr)
	assert.True(t, ledger.IsAuthorization(err))

	require.NoError(t, eng.DeactivateRobot(operator, robotAddr))
	robot, err := eng.GetRobot(robotAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusOffline, robot.Status)
}

func TestGetRobotNotFound(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	_, err := eng.GetRobot(addr(0x42))
	require.Error(t, err)
	assert.True(t, ledger.IsNotFound(err))
}

func TestRobotCodecRoundTrip(t *testing.T) {
	until := t0 + 86400
	robot := &Robot{
		DeviceID:       deviceID(9),
		ManufacturerID: "acme-robotics",
		ModelID:        "mk3",
		FirmwareHash:   deviceID(0xFE),
		Class:          ClassHumanoid,
		Operator:       addr(4),
		RegisteredAt:   t0,
		LastActiveAt:   t0 + 100,
		Reputation:     7342,
		TasksCompleted: 19,
		TotalEarnings:  123_456_789,
		Status:         StatusMaintenance,
		Capabilities: []CapabilityProof{
			{Capability: CapSecurity, CertLevel: 4, ValidUntil: until, Issuer: addr(4)},
			{Capability: CapWarehouse, CertLevel: 1, ValidUntil: until * 2, Issuer: addr(5)},
		},
		Bump: 251,
	}
	data, err := robot.Encode()
	require.NoError(t, err)

	got, err := DecodeRobot(data)
	require.NoError(t, err)
	assert.Equal(t, robot, got)

	again, err := got.Encode()
	require.NoError(t, err)
	assert.True(t, ledger.SameBytes(data, again))
}

func TestDecodeRobotRejectsCorruption(t *testing.T) {
	robot := &Robot{
		DeviceID:       deviceID(1),
		ManufacturerID: "acme",
		ModelID:        "mk1",
		Class:          ClassDrone,
		Operator:       addr(1),
		Status:         StatusIdle,
	}
	data, err := robot.Encode()
	require.NoError(t, err)

	t.Run("truncated", func(t *testing.T) {
		_, err := DecodeRobot(data[:len(data)-3])
		require.Error(t, err)
		assert.True(t, ledger.IsDecode(err))
	})
	t.Run("trailing bytes", func(t *testing.T) {
		_, err := DecodeRobot(append(append([]byte{}, data...), 0))
		require.Error(t, err)
		assert.True(t, ledger.IsDecode(err))
	})
	t.Run("wrong tag", func(t *testing.T) {
		reg := &Registry{Authority: addr(1)}
		regData, err := reg.Encode()
		require.NoError(t, err)
		_, err = DecodeRobot(regData)
		require.Error(t, err)
		assert.True(t, ledger.IsDecode(err))
	})
}

func TestExecuteDispatch(t *testing.T) {
	clock := ledger.NewManualClock(t0)
	eng := NewEngine(store.NewMemory(), clock, nil, nil)
	authority := addr(0xAA)
	operator := addr(1)

	init, err := (&InitializeArgs{}).Encode()
	require.NoError(t, err)
	require.NoError(t, eng.Execute(authority, init))

	reg, err := (&RegisterRobotArgs{
		DeviceID:       deviceID(1),
		ManufacturerID: "acme",
		ModelID:        "mk1",
		Class:          ClassGround,
	}).Encode()
	require.NoError(t, err)
	require.NoError(t, eng.Execute(operator, reg))

	robotAddr, _ := derive.Robot(deviceID(1))
	status, err := (&UpdateStatusArgs{Robot: robotAddr, Status: StatusAvailable}).Encode()
	require.NoError(t, err)
	require.NoError(t, eng.Execute(operator, status))

	robot, err := eng.GetRobot(robotAddr)
	require.NoError(t, err)
	assert.Equal(t, StatusAvailable, robot.Status)

	// Unknown opcodes are rejected before any dispatch.
	bogus := make([]byte, 8)
	err = eng.Execute(operator, bogus)
	require.Error(t, err)
	assert.True(t, ledger.IsValidation(err))
}
