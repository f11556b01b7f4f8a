// Package server assembles the service: browser runtime, session pool,
// runners, outbound fetch client, domain services and the gin router.
package server
