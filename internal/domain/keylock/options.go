package keylock

// Option applies a configuration option to the Locker.
type Option func(*Locker)

// WithExpectedKeys presizes the key table.
func WithExpectedKeys(n int) Option {
	return func(l *Locker) {
		if n > 0 {
			l.locks = make(map[string]*entry, n)
		}
	}
}
