// Package masa provides a client for the Masa Data API. It covers the
// live Twitter search endpoints (submit, poll, fetch results) and the
// tweet analysis endpoint, which are the building blocks for the
// sentiment tools.
package masa
