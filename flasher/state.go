package flasher

import "fmt"

// State is the orchestrator state. Finished and Failed describe the last
// flash attempt; the connection stays open in both.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateFlashing
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFlashing:
		return "flashing"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Stage is the step of a flash attempt a progress event belongs to.
type Stage int

const (
	StagePreparing Stage = iota
	StageErasing
	StageWriting
	StageVerifying
	StageFinished
	StageError
)

func (s Stage) String() string {
	switch s {
	case StagePreparing:
		return "preparing"
	case StageErasing:
		return "erasing"
	case StageWriting:
		return "writing"
	case StageVerifying:
		return "verifying"
	case StageFinished:
		return "finished"
	case StageError:
		return "error"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}
