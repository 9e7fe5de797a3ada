// Package events carries asynchronous notifications between services.
//
// Every topic has exactly one payload type. Payloads are validated against the
// topic's JSON schema when they are published and again when they are
// received, before any handler runs, so handlers only ever see well-formed,
// typed values. Delivery is at-least-once with no ordering across topics;
// handlers must be idempotent.
//
// Two transports are provided: MemoryBus for single-process deployments and
// tests, and RedisBus which maps every (channel, topic) pair to a Redis stream
// read through a consumer group.
package events
