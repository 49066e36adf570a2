/*
Package events provides an in-memory broker that fans durable ledger
entries out to live subscribers.

The kernel publishes every appended entry; each subscriber gets its own
buffered channel, and a subscriber that falls behind loses entries rather
than blocking the broadcast. Followers that need a complete record read
the ledger directly and use the broker only for liveness.
*/
package events
