/*
Package resilience provides the circuit breaker guarding Chromium launches
and outbound HTTP (feed, product images, probe).

A breaker starts closed. Failures reported while closed are counted per
Interval window; when ReadyToTrip says so it opens and every call fails
with ErrCircuitOpen for Timeout. It then admits MaxRequests trial calls
(half-open): that many successes close it, one failure opens it again.

	launch := resilience.New("chromium-launch", resilience.Settings{
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 3 },
	})

	sess, err := resilience.Call(launch, func() (*browser.Session, error) {
		return newContext()
	})

IsSuccessful lets callers keep errors that are not the dependency's fault,
such as a canceled request context, from counting against it.
*/
package resilience
