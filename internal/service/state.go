package service

import "fmt"

type State uint32

const (
	StateIdle       State = iota // no endpoint, create/listen/bind next
	StateListening               // endpoint bound
	StateAccepting               // waiting for connection
	StateProcessing              // read request, dispatch by port
	StateResponding              // send reply
	StateClosed                  // connection closed, back to Listening
	StateStop
)

var stateNames = [...]string{
	StateIdle:       "Idle",
	StateListening:  "Listening",
	StateAccepting:  "Accepting",
	StateProcessing: "Processing",
	StateResponding: "Responding",
	StateClosed:     "Closed",
	StateStop:       "Stop",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}
