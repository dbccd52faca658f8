// Package mongostore provides a store.Adapter backed by MongoDB.
//
// Each entity is a collection of one database. Filters and updates are
// translated to MongoDB query and update documents ([FilterDocument],
// [UpdateDocument]) and run server-side.
//
// Sessions are multi-document transactions with snapshot read concern and
// majority write concern, so a whole cascade commits or aborts together.
// Transactions need a replica set or a sharded cluster; a single-node
// replica set is enough for development:
//
//	mongod --replSet rs0
//	mongosh --eval 'rs.initiate()'
package mongostore
