/*
Package config loads and validates meshbroker's YAML configuration: the
fast-store, durable-store, supervisor, workspace, consensus, and security
blocks of spec §6. Load parses the file and runs Validate, returning a
configuration error (never a panic) on any rule violation — a fatal,
startup-only failure mode per the error taxonomy's kind 2.
*/
package config
