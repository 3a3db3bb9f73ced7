// Package store provides the DynamoDB adapter for the arbor entity and tree tables.
//
// Arbor keeps application data in a single entity table partitioned by
// workspace, plus a tree-index table that carries one materialized-path record
// per hierarchy node. This package owns all DynamoDB wire concerns: attribute
// marshaling, expression building, pagination, batch chunking with
// unprocessed-item retry, and transactional multi-item writes.
//
// # Tables and indexes
//
// Entity table (Config.Table):
//
//   - workspaceId (partition key)
//   - entityId (sort key)
//   - ak (alternate-key GSI partition attribute, Config.AlternateKeyIndex)
//
// Tree table (Config.TreeTable):
//
//   - entityId (partition key)
//   - tree, path (GSI Config.TreePathIndex; tree is the workspace, path is the
//     delimiter-joined materialized path, queried with begins_with)
//
// # Client
//
// Operations go through the [DynamoClient] interface, satisfied by the real
// *dynamodb.Client. Tests supply a stub instead of mocking DynamoDB internals.
//
// # Errors
//
//   - [ErrNotFound] - item does not exist
//   - [ErrConditionFailed] - a conditional write was rejected
//   - [TransactionCanceledError] - a transactional write was cancelled; the
//     failed item index is preserved so callers can map it to their own errors
package store
