package update

import (
	"github.com/wolfssl/wolfboot-core/flash"
	"github.com/wolfssl/wolfboot-core/trailer"
	"github.com/wolfssl/wolfboot-core/wlog"
)

// Run is the entry point boot.Boot calls on every reset, before opening
// and verifying BOOT for execution. It dispatches between resuming an
// interrupted commit, running a normal update, running an emergency
// rollback, or doing nothing.
func (e *Engine) Run() error {
	bootState, err := e.tm.GetState(flash.TagBoot)
	if err != nil {
		return err
	}
	updateState, err := e.tm.GetState(flash.TagUpdate)
	if err != nil {
		return err
	}

	wlog.Verbose("update engine run", wlog.Fields{"bootState": int(bootState), "updateState": int(updateState)})

	switch {
	case updateState == trailer.StateFinalFlags:
		// A previous commit was interrupted somewhere inside
		// swapAndFinalErase (which marks UPDATE, not BOOT,
		// FINAL_FLAGS as its very first step, precisely so this
		// survives a reboot regardless of how much of BOOT's trailer
		// it had rewritten); re-run the commit tail, which resumes
		// from the staging-sector sentinel rather than redoing
		// already-completed steps.
		return e.swapAndFinalErase()

	case bootState == trailer.StateTesting:
		// The previously installed image never called Success; the
		// backup image parked in UPDATE during the forward swap is
		// restored.
		return e.runUpdate(true)

	case updateState == trailer.StateUpdating:
		return e.runUpdate(false)
	}

	return nil
}

// EmergencyRollback runs the rollback swap directly, for callers (the
// boot package) that need to invoke it outside of Run's own state
// dispatch -- for example when BOOT fails verification for a reason the
// trailer state alone didn't predict.
func (e *Engine) EmergencyRollback() error {
	return e.runUpdate(true)
}
