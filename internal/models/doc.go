// Package models defines the persisted shapes shared by the client store, the
// server repositories and the transport: the encrypted variable record and the
// user record that carries the encryption salt.
package models
