// Package dynamostore provides a store.Adapter backed by Amazon DynamoDB.
//
// Every collection maps to one table (optionally prefixed) with a string
// hash key "id" holding the hex document id. Items carry:
//
//   - doc: the whole document, BSON encoded
//   - version: incremented on every write, used for optimistic locking
//   - ttl: set by [Store.Expire]; expired items are invisible to reads
//
// # Sessions
//
// A session buffers its writes and reads its own writes back. Commit sends
// them as one TransactWriteItems call, each item conditioned on the version
// the session read, so the commit fails with store.ErrConcurrentModification
// if anything changed underneath. A session holding more writes than
// [Config].MaxTransactItems fails to commit with store.ErrTransactionTooLarge.
//
// Writes issued without a session run in a private session committed
// immediately, so a multi-document UpdateMany is still atomic.
//
// # Queries
//
// Documents are opaque to DynamoDB. Filters on _id use GetItem; any other
// filter scans the table (in parallel with [Config].ScanSegments) and is
// matched client-side. The adapter suits small and medium collections.
package dynamostore
