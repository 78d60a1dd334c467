package game

import "fmt"

// State is the state of the game world
type State int32

const (
	// StateStartup is the state before the loader runs
	StateStartup State = iota
	// StateInit is the state while the loader runs
	StateInit
	// StateNormal accepts logins
	StateNormal
	// StateShutdown is the state after the world is shut down
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateStartup:
		return "startup"
	case StateInit:
		return "init"
	case StateNormal:
		return "normal"
	case StateShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}
