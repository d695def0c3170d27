// Package mqtt makes the assistant a Home Assistant device over MQTT.
//
// The publisher announces status sensors through HA MQTT discovery and
// refreshes their state on a fixed interval. It also listens on an ask
// topic: each message there runs one conversation turn and the reply is
// published to the matching reply topic, so satellites without HTTP can
// still talk to the assistant.
//
// Connection management uses Eclipse Paho v2's [autopaho] package. On
// every (re-)connect the publisher republishes retained discovery
// configs, sends the "online" birth message and resubscribes to the ask
// topic. A will message flips availability to "offline" on unexpected
// disconnects.
package mqtt
