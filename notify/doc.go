// Package notify provides [authcore.Notifier] implementations that deliver
// one-time codes: an HTTP SMS gateway, an SMTP email gateway and a gateway
// that only logs.
package notify
