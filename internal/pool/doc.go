// Package pool keeps a bounded set of browser sessions and hands them to
// tasks one at a time.
//
// Acquire waits in a FIFO queue for an idle session or free capacity. A
// released session, or the slot freed by a retired one, is granted to the
// oldest waiter directly so late arrivals cannot overtake it.
//
// Sessions are retired when released unhealthy, after MaxUses tasks, or
// once older than MaxAge. A background reaper closes idle sessions past
// MaxIdleTime and tops the pool back up to MinIdle.
//
// Do wraps Acquire and Release so the session is released on every path:
//
//	err := p.Do(ctx, 5*time.Second, func(s *browser.Session) bool {
//		res := rt.Execute(ctx, s, t)
//		return browser.Healthy(res.Kind())
//	})
package pool
