// Package source defines the record source contract and its
// implementations: the remote system of record that refresh cycles pull
// candidate records from.
//
// FirestoreSource talks to Cloud Firestore over its REST API with service
// account authentication. MemorySource is an in-process implementation for
// tests and local runs. ResilientSource wraps any Source with per-attempt
// timeouts and retry with backoff, since a pull crosses the network and is
// the only unbounded wait in a refresh cycle.
package source
