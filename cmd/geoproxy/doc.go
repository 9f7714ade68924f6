// Package main implements the geoproxy runtime process.
//
// The proxy normalizes and matches incoming geospatial service requests
// against configured Resources, enforces referrer allow-lists and
// per-Resource rate caps, injects broker-acquired or static credentials,
// and streams the upstream response back to the caller. It also exposes a
// local admin API for Resource CRUD, backed by an encrypted badger store.
package main
