// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kernel

import (
	"errors"
	"fmt"
	"io"

	"gvisor.dev/vmkernel/pkg/abi/sysno"
	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/metric"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
)

// maxIOSize bounds the buffer of a single read or write.
const maxIOSize = 1 << 20

// SyscallArguments are the argument registers at the time of a syscall.
type SyscallArguments [4]int32

// SyscallFn is a syscall implementation. It returns the value for the
// result register. An error aborts the calling thread's machine loop: it is
// errThreadExit, machine.ErrHalted or a failure of the kernel itself.
// Failures the user program should see are reported as -1 instead.
type SyscallFn func(k *Kernel, t *Thread, args SyscallArguments) (int32, error)

// Syscall describes one system call.
type Syscall struct {
	Name string
	Fn   SyscallFn
}

// syscallTable maps syscall numbers to implementations.
var syscallTable = map[sysno.Sysno]Syscall{
	sysno.Halt:   {"halt", sysHalt},
	sysno.Exit:   {"exit", sysExit},
	sysno.Exec:   {"exec", sysExec},
	sysno.Join:   {"join", sysJoin},
	sysno.Create: {"create", sysCreate},
	sysno.Open:   {"open", sysOpen},
	sysno.Read:   {"read", sysRead},
	sysno.Write:  {"write", sysWrite},
	sysno.Close:  {"close", sysClose},
	sysno.Fork:   {"fork", sysFork},
	sysno.Yield:  {"yield", sysYield},
}

var syscallCount = metric.MustCreateNewUint64Metric("/kernel/syscalls", "System calls made, by name.",
	metric.NewField("name", syscallNames()...))

func syscallNames() []string {
	names := make([]string, 0, len(syscallTable))
	for _, nr := range sysno.All() {
		names = append(names, nr.String())
	}
	return names
}

// syscall dispatches the syscall in the machine registers for t. On return
// the PC is past the SYSCALL instruction.
func (k *Kernel) syscall(t *Thread) error {
	nr := sysno.Sysno(k.m.ReadRegister(machine.RetReg))
	sc, ok := syscallTable[nr]
	if !ok {
		return k.kill(t, fmt.Errorf("syscall %d: %w", int32(nr), kernerr.ErrUnknownSyscall))
	}
	syscallCount.Increment(sc.Name)
	args := SyscallArguments{
		k.m.ReadRegister(machine.ArgReg0),
		k.m.ReadRegister(machine.ArgReg1),
		k.m.ReadRegister(machine.ArgReg2),
		k.m.ReadRegister(machine.ArgReg3),
	}
	t.ctx.Debugf("%s(%#x, %#x, %#x, %#x)", sc.Name, args[0], args[1], args[2], args[3])
	ret, err := sc.Fn(k, t, args)
	if err != nil {
		return err
	}
	k.m.WriteRegister(machine.RetReg, ret)
	k.incPC()
	return nil
}

// incPC moves past the SYSCALL instruction.
func (k *Kernel) incPC() {
	pc := k.m.ReadRegister(machine.NextPCReg)
	k.m.WriteRegister(machine.PrevPCReg, k.m.ReadRegister(machine.PCReg))
	k.m.WriteRegister(machine.PCReg, pc)
	k.m.WriteRegister(machine.NextPCReg, pc+machine.InstructionSize)
}

// userError turns err into the -1 a user program sees, after logging it.
func userError(t *Thread, op string, err error) (int32, error) {
	t.ctx.Debugf("%s failed: %v", op, err)
	return -1, nil
}

func sysHalt(k *Kernel, t *Thread, _ SyscallArguments) (int32, error) {
	t.ctx.Infof("Machine halted by %v", t)
	k.m.Halt()
	return 0, machine.ErrHalted
}

func sysExit(k *Kernel, t *Thread, args SyscallArguments) (int32, error) {
	return 0, k.exit(t, args[0])
}

func sysExec(k *Kernel, t *Thread, args SyscallArguments) (int32, error) {
	name, err := k.CopyInString(args[0], MaxFileNameLength)
	if err != nil {
		return 0, err
	}
	pid, err := k.Exec(t.ctx, name)
	if err != nil {
		return userError(t, "exec", err)
	}
	return pid, nil
}

func sysJoin(k *Kernel, t *Thread, args SyscallArguments) (int32, error) {
	id := args[0]
	if id == t.pid {
		return userError(t, "join", fmt.Errorf("process %d joining itself", id))
	}
	status, err := k.procs.Join(id, func() error {
		if k.m.Halted() {
			return machine.ErrHalted
		}
		return k.sched.Yield(t)
	})
	if errors.Is(err, kernerr.ErrNoProcess) {
		return userError(t, "join", err)
	}
	return status, err
}

func sysFork(k *Kernel, t *Thread, args SyscallArguments) (int32, error) {
	entry := args[0]
	restore := k.m.Interrupt.Disable()
	child, err := t.space.Fork(t.ctx)
	restore()
	if err != nil {
		return 0, err
	}
	if err := k.procs.Fork(t.pid); err != nil {
		return 0, err
	}
	k.sched.Fork(t.ctx, t.name+"/fork", t.pid, child, func(ct *Thread) error {
		child.InitRegisters()
		k.m.WriteRegister(machine.PCReg, entry)
		k.m.WriteRegister(machine.NextPCReg, entry+machine.InstructionSize)
		return k.runUser(ct)
	})
	return 0, nil
}

func sysYield(k *Kernel, t *Thread, _ SyscallArguments) (int32, error) {
	return 0, k.sched.Yield(t)
}

func sysCreate(k *Kernel, t *Thread, args SyscallArguments) (int32, error) {
	name, err := k.CopyInString(args[0], MaxFileNameLength)
	if err != nil {
		return 0, err
	}
	if err := k.fs.Create(t.ctx, name, 0); err != nil {
		return userError(t, "create", err)
	}
	return 0, nil
}

func sysOpen(k *Kernel, t *Thread, args SyscallArguments) (int32, error) {
	name, err := k.CopyInString(args[0], MaxFileNameLength)
	if err != nil {
		return 0, err
	}
	f, err := k.fs.Open(t.ctx, name)
	if err != nil {
		return userError(t, "open", err)
	}
	fd, err := k.fds.NewFD(name, fs.NewOpenFile(f))
	if err != nil {
		f.Close()
		return userError(t, "open", err)
	}
	return fd, nil
}

func sysClose(k *Kernel, t *Thread, args SyscallArguments) (int32, error) {
	if err := k.fds.Remove(args[0]); err != nil {
		return userError(t, "close", err)
	}
	return 0, nil
}

func sysRead(k *Kernel, t *Thread, args SyscallArguments) (int32, error) {
	addr, size, fd := args[0], args[1], args[2]
	if size < 0 || size > maxIOSize {
		return userError(t, "read", fmt.Errorf("size %d out of range [0, %d]", size, maxIOSize))
	}
	buf := make([]byte, size)
	var (
		n   int
		err error
	)
	if fd == sysno.ConsoleInput {
		if k.input != nil {
			n, err = k.input.Read(buf)
			if err == io.EOF {
				err = nil
			}
		}
	} else {
		var f *fs.OpenFile
		if f, err = k.fds.Get(fd); err == nil {
			n, err = f.Read(buf)
		}
	}
	if err != nil {
		return userError(t, "read", err)
	}
	if err := k.CopyOut(addr, buf[:n]); err != nil {
		return 0, err
	}
	return int32(n), nil
}

func sysWrite(k *Kernel, t *Thread, args SyscallArguments) (int32, error) {
	addr, size, fd := args[0], args[1], args[2]
	if size < 0 || size > maxIOSize {
		return userError(t, "write", fmt.Errorf("size %d out of range [0, %d]", size, maxIOSize))
	}
	buf, err := k.CopyIn(addr, int(size))
	if err != nil {
		return 0, err
	}
	var n int
	if fd == sysno.ConsoleOutput {
		n, err = k.console.Write(buf)
	} else {
		var f *fs.OpenFile
		if f, err = k.fds.Get(fd); err == nil {
			n, err = f.Write(buf)
		}
	}
	if err != nil {
		return userError(t, "write", err)
	}
	return int32(n), nil
}
