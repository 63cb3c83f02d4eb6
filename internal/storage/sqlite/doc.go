// Package sqlite is the registration run catalogue: one row per pipeline
// run and one per executed stage, kept in a SQLite database whose schema
// is managed by embedded golang-migrate migrations.
package sqlite
