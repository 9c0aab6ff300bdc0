package plc_modbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRegisters(t *testing.T) {

	assert := assert.New(t)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	regs := []uint16{1215, 152, 82, 74, 80, 2, 1, 0, 1, 7, 149, 0}

	r, err := DecodeRegisters(regs, at)
	require.NoError(t, err)

	assert.Equal(121.5, r.Temperature, "temperature")
	assert.Equal(1.52, r.Pressure, "pressure")
	assert.Equal(8.2, *r.SteamFlow, "steam flow")
	assert.Equal(74.0, r.WaterLevel, "water level")
	assert.Equal(8.0, r.Power, "power")
	assert.Equal(STATUS_STERILIZING, r.Status, "status")
	assert.True(r.DoorLocked)
	assert.False(r.HeaterOn)
	assert.True(r.PumpOn)
	assert.Equal(uint16(7), r.CycleNumber)
	assert.Equal(uint16(149), r.TotalCycles)
	assert.Equal(AlarmNone, r.Alarm().Kind)
	assert.Nil(r.CombustionTemp, "no combustion block")
	assert.Equal(at, r.Timestamp)
}

func TestDecodeCombustionRegisters(t *testing.T) {

	assert := assert.New(t)

	regs := []uint16{250, 0, 0, 70, 120, 2, 1, 1, 1, 1, 1, 0, 950, 380, 35, 160, 48, 5100, 85}
	r, err := DecodeRegisters(regs, time.Now())
	require.NoError(t, err)

	assert.Equal(950.0, *r.CombustionTemp)
	assert.Equal(380.0, *r.ExhaustTemp)
	assert.Equal(35.0, *r.CO)
	assert.Equal(160.0, *r.NOx)
	assert.Equal(48.0, *r.SO2)
	assert.Equal(5100.0, *r.CO2)
	assert.Equal(8.5, *r.FuelFlow)
}

func TestDecodeUnknownStatus(t *testing.T) {

	regs := make([]uint16, PRESSURE_VESSEL_REGISTER_COUNT)
	regs[REG_STATUS] = 9
	_, err := DecodeRegisters(regs, time.Now())
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestDecodeShortBlock(t *testing.T) {

	_, err := DecodeRegisters([]uint16{1, 2, 3}, time.Now())
	assert.ErrorIs(t, err, ErrShortRegisterBlock)
}

func TestEncodeDecodeExact(t *testing.T) {

	assert := assert.New(t)

	steam := 8.2
	in := Reading{
		Temperature: 121.5,
		Pressure:    2.37,
		SteamFlow:   &steam,
		WaterLevel:  74,
		Power:       18.3,
		Status:      STATUS_HEATING,
		HeaterOn:    true,
		CycleNumber: 3,
		TotalCycles: 145,
		AlarmCode:   4,
	}
	regs := EncodeRegisters(in)
	assert.Equal(uint16(1215), regs[REG_TEMPERATURE])
	assert.Equal(uint16(237), regs[REG_PRESSURE])

	out, err := DecodeRegisters(regs, in.Timestamp)
	require.NoError(t, err)
	assert.Equal(in.Temperature, out.Temperature)
	assert.Equal(in.Pressure, out.Pressure)
	assert.Equal(*in.SteamFlow, *out.SteamFlow)
	assert.Equal(in.Power, out.Power)
	assert.Equal(in.Status, out.Status)
	assert.Equal(in.AlarmCode, out.AlarmCode)
}

func TestEncodeClampsRange(t *testing.T) {

	assert := assert.New(t)

	regs := EncodeRegisters(Reading{Temperature: -4, Pressure: 1000, Status: STATUS_IDLE})
	assert.Equal(uint16(0), regs[REG_TEMPERATURE])
	assert.Equal(uint16(65535), regs[REG_PRESSURE])
}

func TestStatusCodes(t *testing.T) {

	assert := assert.New(t)

	for code := uint16(0); code <= 5; code++ {
		s, err := StatusFromCode(code)
		require.NoError(t, err)
		assert.Equal(code, s.Code())
	}
	assert.True(STATUS_COOLING.Running())
	assert.False(STATUS_COMPLETE.Running())
}

func TestAlarmLookup(t *testing.T) {

	assert := assert.New(t)

	none := LookupAlarm(0)
	assert.Equal(AlarmNone, none.Kind)
	assert.False(none.Active())

	over := LookupAlarm(1)
	assert.Equal(AlarmKnown, over.Kind)
	assert.Equal(SEVERITY_CRITICAL, over.Severity)
	assert.Equal("over-temperature", over.Message)

	under := LookupAlarm(3)
	assert.Equal(SEVERITY_WARNING, under.Severity)

	unknown := LookupAlarm(42)
	assert.Equal(AlarmUnrecognized, unknown.Kind)
	assert.Equal(SEVERITY_CRITICAL, unknown.Severity)
	assert.Contains(unknown.Message, "42")

	_, err := LookupAlarmStrict(42)
	assert.ErrorIs(err, ErrUnknownAlarm)
	_, err = LookupAlarmStrict(99)
	assert.NoError(err)
}

func TestCoilNames(t *testing.T) {

	assert := assert.New(t)

	c, err := ParseCoil("alarm_reset")
	require.NoError(t, err)
	assert.Equal(COIL_ALARM_RESET, c)
	assert.Equal(uint16(3), c.Address())
	assert.Equal("remote_start", COIL_REMOTE_START.String())

	_, err = ParseCoil("self_destruct")
	assert.Error(err)
}
