// Package storage provides the persistence backends for the delivery
// engine: an in-memory store for tests and single-node use, and a SQL
// store for Postgres.
package storage
