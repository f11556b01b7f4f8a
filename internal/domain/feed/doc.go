// Package feed proxies a Google Merchant style RSS feed and points each
// item's image links at the service's own rendered product card.
package feed
