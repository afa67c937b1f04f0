package services

// Recorder receives service-level counters.
type Recorder interface {
	LoginAttempt(outcome string)
	SessionsRevoked(n int64)
	TokenRefreshed(ok bool)
	AuditWrite(ok bool)
}

// Login outcomes reported to Recorder.LoginAttempt.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeLocked  = "locked"
	OutcomeError   = "error"
)

type nopRecorder struct{}

func (nopRecorder) LoginAttempt(string)   {}
func (nopRecorder) SessionsRevoked(int64) {}
func (nopRecorder) TokenRefreshed(bool)   {}
func (nopRecorder) AuditWrite(bool)       {}
