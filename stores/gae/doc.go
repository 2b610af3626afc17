//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the socialauth
// AccountStore and StateStore.
//
// # Datastore Kinds
//
// The package uses the following Datastore kinds:
//   - Account: accounts keyed by account ID
//   - ProviderLink: one entity per provider:provider_user_id, pointing at its account
//   - EmailLink: one entity per normalized email, pointing at its account
//   - AuthState: in-flight authorization states keyed by state value
//
// Datastore has no unique indexes, so uniqueness comes from the link entities
// being read and written in the same transaction as the account.
//
// # Namespacing
//
// Pass a namespace when creating stores to isolate data between tenants:
//
//	accounts := gae.NewAccountStore(client, "tenant-123")
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	accounts := gae.NewAccountStore(client, "")  // default namespace
//	states := gae.NewStateStore(client, "")
package gae
