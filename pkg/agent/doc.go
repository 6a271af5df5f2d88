// Package agent defines the wrapped-agent contract: the configuration an
// isolation strategy may copy, the provider connection it must share, and the
// capability descriptor that drives strategy selection.
package agent
