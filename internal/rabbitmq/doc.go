// Package rabbitmq provides the AMQP 0-9-1 primitives outbound dispatch is
// built on.
//
// This package includes:
//   - ConnectionManager: owns the broker connection, re-dials it on failure
//     and opens channels for outbound sessions
//   - Publish: a single publish honoring the mandatory and immediate flags
//   - DeclareExchange, DeclareQueue, DeclareTemporaryQueue: topology
//   - ConsumeOne: a blocking, cancellable consume of one delivery
//
// Channels are not safe for concurrent use; callers serialize access.
package rabbitmq
