// Package platform defines the contract between connectors and the engine.
//
// A Connector owns exactly one platform session and its connection state
// machine. The engine implements Handler, plus any of the optional
// capability interfaces, and is injected at connector construction.
package platform
