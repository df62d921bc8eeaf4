// Package uow coordinates aggregate persistence, event publication and listener
// notification for one logical operation.
//
// A unit of work moves through Created, Started, then either Committing and Committed or
// RollingBack and RolledBack, and finally Closed. Commit runs in a fixed order:
//
//  1. OnPrepareCommit on every listener
//  2. the save callback of every registered aggregate, followed by CommitEvents
//  3. every buffered event is published on its bus
//  4. AfterCommit on every listener
//  5. OnCleanup on every listener, and the unit leaves its scope
//
// When step 1, 2 or 3 fails, listeners see OnRollback instead of AfterCommit. Cleanup
// runs on every path.
//
// The active units of work are tracked per execution scope, carried in a
// context.Context:
//
//	ctx, u, err := uow.NewFactory().CreateUnitOfWork(ctx)
//	if err != nil {
//	    return err
//	}
//	cur, _ := uow.Current(ctx) // cur == u
//	return u.Commit(ctx)
//
// Starting a unit while another is active in the same scope suspends the outer one until
// the inner one is closed.
package uow
