// Package rabbitmq implements the connection lifecycle and publish retry
// engine behind the exchange publisher.
//
// This package includes:
//   - EndpointSet: round-robin broker endpoint selection with optional shuffle
//   - Connector: opens a connection plus administrative channel and declares the exchange
//   - ChannelCache: one lazily opened channel and exchange reference per worker,
//     tagged with the connection generation it belongs to
//   - Engine: connect with failover, publish with unbounded retry, shutdown
//
// The broker client library is reached only through the Dialer, Connection
// and Channel interfaces; AMQPDialer adapts amqp091-go.
package rabbitmq
