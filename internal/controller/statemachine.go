package controller

import "github.com/frostdev-ops/uc-bridge-go/pkg/errors"

// opMode is the driver operation mode.
type opMode int

const (
	modeRequireSetup opMode = iota
	modeRunning
	modeSetupFlow
	modeWaitSetupUserData
	modeSetupError
)

func (m opMode) String() string {
	switch m {
	case modeRequireSetup:
		return "require_setup"
	case modeRunning:
		return "running"
	case modeSetupFlow:
		return "setup_flow"
	case modeWaitSetupUserData:
		return "wait_setup_user_data"
	case modeSetupError:
		return "setup_error"
	default:
		return "unknown"
	}
}

// modeInput is one event fed into the operation mode machine.
type modeInput int

const (
	inputConfigAvailable modeInput = iota
	inputSetupRequest
	inputR2Request
	inputRequestUserInput
	inputSuccessful
	inputSetupError
	inputAbortSetup
	inputSetupUserData
)

func (i modeInput) String() string {
	switch i {
	case inputConfigAvailable:
		return "config_available"
	case inputSetupRequest:
		return "setup_request"
	case inputR2Request:
		return "r2_request"
	case inputRequestUserInput:
		return "request_user_input"
	case inputSuccessful:
		return "successful"
	case inputSetupError:
		return "setup_error"
	case inputAbortSetup:
		return "abort_setup"
	case inputSetupUserData:
		return "setup_user_data"
	default:
		return "unknown"
	}
}

// stateMachine guards which driver operations are legal in the current mode.
// An input not accepted by the current mode is rejected and leaves the mode
// unchanged.
type stateMachine struct {
	mode opMode
}

func newStateMachine(configured bool) *stateMachine {
	if configured {
		return &stateMachine{mode: modeRunning}
	}
	return &stateMachine{mode: modeRequireSetup}
}

func (m *stateMachine) current() opMode {
	return m.mode
}

func (m *stateMachine) handle(input modeInput) error {
	next, ok := transition(m.mode, input)
	if !ok {
		return errors.BadRequest("input %s not allowed in mode %s", input, m.mode)
	}
	m.mode = next
	return nil
}

func transition(mode opMode, input modeInput) (opMode, bool) {
	switch mode {
	case modeRequireSetup:
		switch input {
		case inputConfigAvailable:
			return modeRunning, true
		case inputSetupRequest:
			return modeSetupFlow, true
		}
	case modeRunning:
		switch input {
		case inputSetupRequest:
			return modeSetupFlow, true
		case inputR2Request:
			return modeRunning, true
		}
	case modeSetupFlow:
		switch input {
		case inputRequestUserInput:
			return modeWaitSetupUserData, true
		case inputSuccessful:
			return modeRunning, true
		case inputSetupError:
			return modeSetupError, true
		case inputAbortSetup:
			return modeRequireSetup, true
		}
	case modeWaitSetupUserData:
		switch input {
		case inputSetupUserData:
			return modeSetupFlow, true
		case inputAbortSetup:
			return modeRequireSetup, true
		}
	case modeSetupError:
		switch input {
		case inputAbortSetup:
			return modeRequireSetup, true
		case inputSetupRequest:
			return modeSetupFlow, true
		}
	}
	return mode, false
}
