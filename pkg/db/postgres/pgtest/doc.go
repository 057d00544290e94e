// Package pgtest starts disposable PostgreSQL servers for integration tests.
// Its helpers are only built with the integration tag.
package pgtest
