// Package action implements the Feature Action: the state machine the
// feature lifecycle system drives to apply and revert one feature's table
// overrides.
//
// States:
//
//	Inactive --Activate--> Loading --load ok--> Active --Deactivate--> Unloading --> Inactive
//	                       Loading --load error / register error--> Failed --Reset--> Inactive
//	                       Loading --Cancel or Deactivate--> Inactive
//
// Every method must be called from the owner goroutine. The only work done
// elsewhere is the descriptor load, whose result is handed back through a
// Slot reserved from the Scheduler so that registry and ledger mutation
// stays on the owner. All of a descriptor's contributions are registered
// as one batch.
package action
