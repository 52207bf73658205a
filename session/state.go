package session

import "sync/atomic"

// State is the lifecycle state of a session.
type State uint32

const (
	ClosedState State = iota
	ClosingState
	OpeningState
	OpenedState
)

func (s State) String() string {
	switch s {
	case ClosedState:
		return "Closed"
	case ClosingState:
		return "Closing"
	case OpeningState:
		return "Opening"
	case OpenedState:
		return "Opened"
	default:
		return "Unknown"
	}
}

type atomicState struct {
	state atomic.Uint32
}

func (st *atomicState) String() string {
	return st.Get().String()
}

func (st *atomicState) Get() State {
	return State(st.state.Load())
}

func (st *atomicState) IsOpened() bool {
	return st.Get() == OpenedState
}

func (st *atomicState) ToOpening() bool {
	return st.state.CompareAndSwap(uint32(ClosedState), uint32(OpeningState))
}

func (st *atomicState) ToOpened() bool {
	if st.IsOpened() {
		return true
	}

	return st.state.CompareAndSwap(uint32(OpeningState), uint32(OpenedState))
}

func (st *atomicState) ToClosing() bool {
	result := st.state.CompareAndSwap(uint32(OpenedState), uint32(ClosingState))
	if !result {
		return st.state.CompareAndSwap(uint32(OpeningState), uint32(ClosingState))
	}

	return result
}

func (st *atomicState) ToClosed() bool {
	if st.Get() == ClosedState {
		return true
	}

	return st.state.CompareAndSwap(uint32(ClosingState), uint32(ClosedState))
}
