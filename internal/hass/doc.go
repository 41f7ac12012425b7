// Package hass talks to the Home Assistant host: a REST client for entity
// states, service calls and event firing, plus a websocket listener for
// state-change notifications. The connector treats the host through the
// narrow StateHost port so it can run standalone without one.
package hass
