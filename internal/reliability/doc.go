// Package reliability retries whole dispatch attempts.
//
// The outbound strategies never retry on their own; callers that want
// another attempt wrap Dispatch or Send with Retry and a policy. By default
// only failures classified as broker I/O are repeated:
//
//	policy := reliability.NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 3)
//	err := reliability.Retry(ctx, policy, func(ctx context.Context) error {
//	    return dispatcher.Dispatch(ctx, event)
//	})
package reliability
