// Package mqtt mirrors bridge activity to an MQTT broker.
//
// Every finished toolkit invocation is published as a JSON document to
// <prefix>/<device>/<toolkit>/<tool>/invocation at QoS 0. Server health
// transitions are published retained at QoS 1 to
// <prefix>/<device>/<server>/availability as "online" or "offline".
// The bridge's own availability lives at <prefix>/<device>/availability
// and is backed by a will message, so subscribers see "offline" after
// an unexpected disconnect.
//
// Connection management uses Eclipse Paho v2's [autopaho] package. On
// every (re-)connect the publisher re-sends the retained bridge info,
// its birth message and the last known availability of each server.
package mqtt
