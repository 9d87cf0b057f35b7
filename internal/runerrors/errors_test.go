package runerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvalidQueryErrorMessage(t *testing.T) {
	err := &InvalidQueryError{Backend: "D", Query: "host1 and", Reason: "unexpected end of input"}
	assert.Contains(t, err.Error(), "backend \"D\"")
	assert.Contains(t, err.Error(), "host1 and")

	bare := &InvalidQueryError{Query: "A:cycle", Reason: "alias cycle"}
	assert.NotContains(t, bare.Error(), "backend")
}

func TestBackendErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &BackendError{Backend: "F", Reason: "dial failed", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "dial failed")
}

func TestWorkerErrorUnwrap(t *testing.T) {
	cause := errors.New("bad threshold")
	err := &WorkerError{Reason: "invalid config", Cause: cause}
	assert.ErrorIs(t, err, cause)
}

func TestTimeoutErrorMessages(t *testing.T) {
	global := &TimeoutError{Global: true}
	assert.Equal(t, "global timeout exceeded", global.Error())

	perHost := &TimeoutError{Host: "host1"}
	assert.Contains(t, perHost.Error(), "host1")
}

func TestClassifySeverity(t *testing.T) {
	assert.Equal(t, SeverityInfo, ClassifySeverity(nil))
	assert.Equal(t, SeverityWarn, ClassifySeverity(&InvalidQueryError{}))
	assert.Equal(t, SeverityError, ClassifySeverity(&BackendError{}))
	assert.Equal(t, SeverityCritical, ClassifySeverity(&TransitionError{}))
	assert.Equal(t, SeverityError, ClassifySeverity(&WorkerError{}))
	assert.Equal(t, SeverityWarn, ClassifySeverity(&TimeoutError{}))
	assert.Equal(t, SeverityInfo, ClassifySeverity(ErrUserAbort))
	assert.Equal(t, SeverityError, ClassifySeverity(errors.New("boom")))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 98, ExitCode(ErrUserAbort))
	assert.Equal(t, 3, ExitCode(&InvalidQueryError{}))
	assert.Equal(t, 3, ExitCode(&BackendError{}))
	assert.Equal(t, 3, ExitCode(&WorkerError{}))
	assert.Equal(t, 99, ExitCode(errors.New("boom")))
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "info", SeverityInfo.String())
	assert.Equal(t, "warn", SeverityWarn.String())
	assert.Equal(t, "error", SeverityError.String())
	assert.Equal(t, "critical", SeverityCritical.String())
	assert.Equal(t, "unknown", Severity(99).String())
}
