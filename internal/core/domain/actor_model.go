package domain

import (
	"github.com/asynkron/protoactor-go/actor"
	"github.com/berfenger/wastemon/pkg/plc_modbus"
)

const (
	ACTOR_ID_MASTER = "master"
	ACTOR_ID_POLLER = "poller"
	ACTOR_ID_ENERGY = "energy"
	ACTOR_ID_MQTT   = "mqtt"
)

func PollerActorId(serial string) string {
	return ACTOR_ID_POLLER + "-" + serial
}

type StartPollingRequest struct {
	ActorRequestMixIn
	Device DeviceProfile
}

type StartPollingResponse struct {
	ActorResponseMixIn
	Device   string
	Poller   *actor.PID
	Replaced bool
}

type StopPollingRequest struct {
	ActorRequestMixIn
	Device string
}

type StopPollingResponse struct {
	ActorResponseMixIn
	Device    string
	Stopped   bool
	Abandoned bool
}

type ListPollersRequest struct {
	ActorRequestMixIn
}

type ListPollersResponse struct {
	ActorResponseMixIn
	Pollers map[string]*actor.PID
}

type DeviceCommandRequest struct {
	ActorRequestMixIn
	Device string
	Coil   plc_modbus.Coil
	Value  bool
}

type DeviceCommandResponse struct {
	ActorResponseMixIn
	Device string
}

// ComputeCycleEnergyRequest computes the energy record of a cycle. Complete
// closes the cycle first.
type ComputeCycleEnergyRequest struct {
	ActorRequestMixIn
	Cycle    CycleRef
	Complete bool
}

type ComputeCycleEnergyResponse struct {
	ActorResponseMixIn
	Record *EnergyRecord
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
