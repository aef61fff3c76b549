package stream

import "time"

// TimeoutSupervisor bounds how long a write or a shutdown may take. A zero
// duration disables the corresponding timer.
type TimeoutSupervisor struct {
	writeTimer      Timer
	shutdownTimer   Timer
	writeTimeout    time.Duration
	shutdownTimeout time.Duration

	onWriteTimeout    func()
	onShutdownTimeout func()
}

func newTimeoutSupervisor(env Env, opts Options, onWrite, onShutdown func()) *TimeoutSupervisor {
	return &TimeoutSupervisor{
		writeTimer:        env.NewTimer(),
		shutdownTimer:     env.NewTimer(),
		writeTimeout:      opts.WriteTimeout,
		shutdownTimeout:   opts.ShutdownTimeout,
		onWriteTimeout:    onWrite,
		onShutdownTimeout: onShutdown,
	}
}

// WriteStarted restarts the write timer.
func (s *TimeoutSupervisor) WriteStarted() {
	if s.writeTimeout > 0 {
		s.writeTimer.Start(s.writeTimeout, s.onWriteTimeout)
	}
}

// WriteFinished stops the write timer.
func (s *TimeoutSupervisor) WriteFinished() {
	s.writeTimer.Stop()
}

// ShutdownStarted starts the shutdown timer.
func (s *TimeoutSupervisor) ShutdownStarted() {
	if s.shutdownTimeout > 0 {
		s.shutdownTimer.Start(s.shutdownTimeout, s.onShutdownTimeout)
	}
}

// ShutdownFinished stops the shutdown timer.
func (s *TimeoutSupervisor) ShutdownFinished() {
	s.shutdownTimer.Stop()
}

// StopAll stops both timers.
func (s *TimeoutSupervisor) StopAll() {
	s.writeTimer.Stop()
	s.shutdownTimer.Stop()
}
