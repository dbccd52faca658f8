// Package store provides declarative rules and transactional mutations for document stores.
//
// Lattice sits between application code and a document database. Each
// collection declares its delete rules and validators once; the [Service]
// runs them around every insert, update and delete, and propagates a single
// session through cascades so that a whole cascade commits or aborts together.
//
// # Key Features
//
//   - Rule inheritance: an entity's [Rules] may extend a parent's
//   - Validators run before inserts and updates (short-circuit on first failure)
//   - Deny rules veto deletes before any side effect
//   - Pre rules cascade within the same session, to any depth
//   - Owned sessions commit on success and abort on error, panic or cancellation
//   - Pluggable stores through the [Adapter] interface
//
// # Declaring Rules
//
//	base := store.NewRules("node").
//	    DeleteRule("protect_root", store.Deny, protectRoot).
//	    Validator("parent_exists", store.OnInsertUpdate, store.ParentExists("node", "parent"))
//
//	folder := store.NewRules("folder").Extends(base).
//	    DeleteRule("cascade_children", store.Pre, store.CascadeChildren("folder", "parent"))
//
//	registry, err := folder.Build() // *ConfigurationError on duplicate names
//
// Registries are built once at startup and are safe for concurrent use.
//
// # Sessions
//
// Every operation takes a [Session] argument. Passing nil lets the service
// open and own one where the operation needs it (deletes always, inserts and
// updates when [Config].TransactionalWrites is set). Passing a session
// borrows it: the service never commits or aborts a session it didn't open.
// Rule handlers receive the active session and must pass it to nested calls.
//
// # Cycles
//
// Cascades are not checked for cycles. Entities whose delete rules reach each
// other in a loop recurse until the store or the stack gives up.
//
// # Errors
//
// The package defines an error taxonomy callers can tell apart:
//
//   - [ConfigurationError] - invalid or conflicting rule declarations
//   - [ValidationError] - a validator rejected an insert or update
//   - [DeleteError] - a deny rule vetoed ([ErrDenied]) or a pre rule failed ([ErrCascadeFailed])
//   - [StoreError] - the adapter failed
//   - [ErrNotFound] - GetByID/FindOne found nothing
package store
