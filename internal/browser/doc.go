// Package browser adapts headless Chromium to the task model.
//
// A Session is one browser context. The Playwright runtime shares a single
// Chromium process between sessions and relaunches it when it disconnects;
// launches go through a circuit breaker so a broken install fails fast.
//
// Execute opens a fresh page per task, applies the target and actions in
// order, then captures HTML, text, a screenshot or a PDF. Every failure comes
// back as a task.Result classified by Classify:
//
//   - NavigationError: the page could not load or an action could not complete
//   - ActionTimeout: a playwright timeout or the task context ended
//   - RuntimeCrash: the page, context or browser died
//
// Example Usage:
//
//	rt := browser.NewPlaywright(browser.Options{Headless: true}, logger)
//	if err := rt.Start(ctx); err != nil {
//		return err
//	}
//	defer rt.Stop()
//
//	s, err := rt.Launch(ctx)
//	if err != nil {
//		return err
//	}
//	defer rt.Close(s)
//	res := rt.Execute(ctx, s, t)
package browser
