package shift

// WakeLock is the wake-lock-equivalent resource held while a shift is
// active, keeping the position source alive on the host platform.
type WakeLock interface {
	Acquire() error
	Release()
}

// NopWakeLock is used on hosts without a wake-lock capability.
type NopWakeLock struct{}

func (NopWakeLock) Acquire() error { return nil }
func (NopWakeLock) Release()       {}
