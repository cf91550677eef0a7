// Package live streams workflow execution progress to connected clients over
// Server-Sent Events.
//
// A Hub owns every open connection. Each connection is registered under the
// workflow it watches (or the "*" wildcard), gets its own change-detection
// poller that turns store reads into events, and a keep-alive task. Other
// parts of the application push events immediately with Hub.Broadcast
// instead of waiting for the next poll.
package live
