// Package sentiment provides crypto sentiment tools built on the Masa
// Data API. A search tool collects recent tweets about a cryptocurrency,
// an analysis tool runs a sentiment prompt over collected tweets, and a
// composite tool chains the two. The tools record their last search and
// analysis parameters as session variables, so follow-up calls in the
// same session can see what was asked before.
package sentiment
