// Package procguard enforces per-process security profiles.
//
// A profile pairs capability flags with syscall filter tables. Every process
// is bound to one profile; exec may replace it subject to the transition
// rules, each syscall is decided against the active tables, and local
// connection endpoints carry a credential derived from the creating
// process's profile.
//
// Engine wires the pieces together:
//
//	cfg, err := config.Load("/etc/procguard/config.yaml")
//	if err != nil {
//	    return err
//	}
//	engine, err := procguard.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer engine.Close(ctx)
//
//	if _, err := engine.Spawn(entities.ProcessIdentity{PID: 1, Epoch: boot}, initTag); err != nil {
//	    return err
//	}
//	child, err := engine.Fork(1, entities.ProcessIdentity{PID: 2, Epoch: now})
//	err = engine.Exec(ctx, 2, "/system/bin/daemon")
//	err = engine.Syscall(ctx, 2, entities.ConventionNative, nr)
package procguard
