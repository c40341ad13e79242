package session

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"
)

// ErrInvalidTransition 受控迁移被状态表拒绝
type ErrInvalidTransition struct {
	Event string
	From  State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("session: event %q not allowed in state %q", e.Event, e.From)
}

func src(states ...State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// newMachine 构建会话状态机。迁移表即 §受控迁移 的全部合法边；
// 表外的事件触发一律拒绝且不改状态。
func newMachine(initial State, onChange func(from, to State)) *fsm.FSM {
	var everything []string
	for _, s := range AllStates {
		if s != StateFaulted {
			everything = append(everything, string(s))
		}
	}

	return fsm.NewFSM(
		string(initial),
		fsm.Events{
			{Name: EventBootAccepted, Src: src(StateAvailable), Dst: string(StateBootAccepted)},

			{Name: EventPlug, Src: src(StateAvailable, StateBootAccepted, StateParked, StateReserved), Dst: string(StatePlugged)},
			{Name: EventUnplug, Src: src(StatePlugged, StatePreparing, StateAuthorized, StateParked), Dst: string(StateAvailable)},

			{Name: EventPrepare, Src: src(StateAvailable, StateBootAccepted, StateParked, StatePlugged, StateReserved), Dst: string(StatePreparing)},
			{Name: EventAuthorize, Src: src(StatePreparing, StatePlugged), Dst: string(StateAuthorizing)},
			{Name: EventAuthorized, Src: src(StateAuthorizing), Dst: string(StateAuthorized)},
			{Name: EventStartTransaction, Src: src(StateAuthorized, StatePreparing), Dst: string(StateStarting)},
			{Name: EventChargingStarted, Src: src(StateStarting), Dst: string(StateCharging)},
			{Name: EventStopTransaction, Src: src(StateCharging, StateStarting, StateAuthorized), Dst: string(StateParked)},

			{Name: EventReserve, Src: src(StateAvailable, StateBootAccepted, StateParked, StatePlugged, StatePreparing), Dst: string(StateReserved)},
			{Name: EventReleaseReservation, Src: src(StateReserved), Dst: string(StateAvailable)},

			{Name: EventFault, Src: everything, Dst: string(StateFaulted)},
			{Name: EventRecover, Src: src(StateFaulted), Dst: string(StateAvailable)},

			{Name: EventSetInoperative, Src: src(StateAvailable, StateBootAccepted, StateParked, StatePlugged), Dst: string(StateUnavailable)},
			{Name: EventSetOperative, Src: src(StateUnavailable), Dst: string(StateAvailable)},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				if onChange != nil && e.Src != e.Dst {
					onChange(State(e.Src), State(e.Dst))
				}
			},
		},
	)
}
