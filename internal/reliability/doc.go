// Package reliability provides the retry loop used by the publisher.
//
// Retry runs an operation under a RetryPolicy and waits between attempts
// through a Sleeper, so tests can drive unbounded loops deterministically:
//
//	err := reliability.Retry(ctx, reliability.Forever(time.Second, isTransient),
//	    func(attempt int) error {
//	        return connect()
//	    },
//	    reliability.WithSleeper(sleeper),
//	)
package reliability
