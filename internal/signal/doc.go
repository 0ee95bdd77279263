// Package signal carries live signaling messages over a broadcast topic.
//
// A Channel is scoped to one streamer identity and rides on a Transport:
// Redis pub/sub, the signaling server's WebSocket bridge, or an in-process
// hub. The transport gives no delivery or cross-sender ordering guarantee,
// so every handler must tolerate messages arriving interleaved.
package signal
