// Package registry maintains the durable table of known speakers: identity,
// capabilities, session, and activity timestamps. It owns checkpoint
// persistence and inactivity eviction.
package registry
