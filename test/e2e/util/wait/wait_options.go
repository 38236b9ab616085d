package wait

import "time"

const (
	defaultRetryInterval = time.Second * 15

	// Deployments get generous settling time; reference runs allowed
	// convergence on the order of fifteen minutes.
	defaultTimeout = time.Minute * 17
)

// Options bundles the polling cadence of a convergence wait.
type Options struct {
	RetryInterval time.Duration
	Timeout       time.Duration
}

// Configuration adjusts a single Options field.
type Configuration func(*Options)

// RetryInterval sets the pause between condition checks.
func RetryInterval(retryInterval time.Duration) Configuration {
	return func(options *Options) {
		options.RetryInterval = retryInterval
	}
}

// Timeout sets the overall deadline of the wait.
func Timeout(timeout time.Duration) Configuration {
	return func(options *Options) {
		options.Timeout = timeout
	}
}

func newOptions(fns ...Configuration) Options {
	options := Options{
		RetryInterval: defaultRetryInterval,
		Timeout:       defaultTimeout,
	}
	for _, fn := range fns {
		fn(&options)
	}
	return options
}
