// Package node runs an onion relay on a UDP socket.
//
// A Node is every role at once: it relays send packets in any hop
// position, relays responses back along their return tags, originates
// packets over paths it builds, and answers packets delivered to it.
//
//	n, err := node.FromConfig(config.CurrentConfig())
//	if err != nil { ... }
//	if err := n.Start(); err != nil { ... }
//	defer n.Close()
//
// Payloads that reach their final address are dispatched by their first
// byte to handlers registered with Handle or HandleDelivered. The onion
// packet kinds themselves are reserved.
package node
