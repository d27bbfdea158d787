// Package session houses concrete implementations of the core.SessionStore.
// The interface itself (and the Session struct) live in the core package
// to centralize domain contracts. Keeping only implementations here prevents
// higher level packages (dispatch, server) from depending on concrete storage.
//
// Additional backends live in sub-packages (see session/redis) without
// changing any calling code. Only the wiring layer decides which
// implementation to instantiate.
//
// The package also provides the Janitor, the background loop that evicts
// sessions once they exceed the configured idle timeout.
package session
