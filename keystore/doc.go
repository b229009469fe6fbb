// Package keystore implements key-storage backends for the raw volume key.
//
// Two backends are provided: a local file backend that persists the key with
// restrictive permissions and atomic temp-then-rename writes, and a HashiCorp
// Vault backend storing the key in the KV v2 secret engine. The Factory
// selects a backend from a location URI (file:// or vault://), mirroring how
// storage locations are configured elsewhere in the system.
//
// Key material is only ever handed out inside memguard locked buffers and is
// wiped from intermediate slices as soon as it has been copied.
package keystore
