// Package render draws product cards. A card is an HTML template with its
// images inlined as data URIs, screenshotted by a pooled browser session.
//
// Layouts live in the embedded assets/default directory and, optionally,
// in subdirectories of a template directory scanned at startup.
package render
