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

// Package config provides basic infrastructure to set configuration settings
// for vmsc. Each setting that can be changed from the command line or from a
// machine file must be added to Config with a `flag` tag naming the flag that
// sets it.
package config

import (
	"fmt"

	"github.com/mohae/deepcopy"

	"gvisor.dev/vmkernel/pkg/log"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/sentry/kernel"
)

// Config holds configuration that is not part of the program being run.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name.
//  3. Register a new flag in flags.go, with same name and add a description.
//  4. Add any necessary validation into validate().
type Config struct {
	// Debug indicates that debug logging should be enabled.
	Debug bool `flag:"debug"`

	// LogFormat is the log format: text, json or json-k8s.
	LogFormat string `flag:"log-format"`

	// DebugLog is the path of an additional log file. An empty value logs to
	// stderr only.
	DebugLog string `flag:"debug-log"`

	// NumPhysPages is the number of physical frames.
	NumPhysPages int `flag:"num-phys-pages"`

	// PageSize is the size of a page and of a frame, in bytes.
	PageSize int `flag:"page-size"`

	// TLBSize is the number of hardware TLB slots.
	TLBSize int `flag:"tlb-size"`

	// UserStackPages is the size of each thread's stack in pages.
	UserStackPages int `flag:"user-stack-pages"`

	// TimerTicks is the number of instructions between timer interrupts. Zero
	// disables preemption.
	TimerTicks int `flag:"timer-ticks"`

	// TLBReplacement chooses the TLB slot refilled on a miss.
	TLBReplacement kernel.TLBPolicy `flag:"tlb-replacement"`

	// Disk is the host directory backing the file store. Empty means an
	// in-memory store holding the sample programs.
	Disk string `flag:"disk"`

	// Seed seeds replacement tie breaks. Zero picks a time based seed.
	Seed uint64 `flag:"seed"`

	// Metrics prints the Prometheus metrics after the run.
	Metrics bool `flag:"metrics"`
}

func (c *Config) validate() error {
	if c.UserStackPages <= 0 {
		return fmt.Errorf("user-stack-pages must be positive, got %d", c.UserStackPages)
	}
	switch c.LogFormat {
	case "text", "json", "json-k8s":
	default:
		return fmt.Errorf("invalid log-format %q, must be one of text, json or json-k8s", c.LogFormat)
	}
	return c.Machine().Validate()
}

// Machine returns the machine geometry.
func (c *Config) Machine() machine.Config {
	return machine.Config{
		PageSize:     c.PageSize,
		NumPhysPages: c.NumPhysPages,
		TLBSize:      c.TLBSize,
		TimerTicks:   c.TimerTicks,
	}
}

// Kernel returns the kernel configuration. seed replaces a zero Seed.
func (c *Config) Kernel(seed uint64) kernel.Config {
	if c.Seed != 0 {
		seed = c.Seed
	}
	return kernel.Config{
		Machine:       c.Machine(),
		UserStackSize: c.UserStackPages * c.PageSize,
		TLBPolicy:     c.TLBReplacement,
		Seed:          seed,
	}
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	return deepcopy.Copy(c).(*Config)
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.Disk: %q", c.Disk)
	log.Infof("Config.Machine: %d frames of %d bytes, %d TLB slots, timer every %d ticks", c.NumPhysPages, c.PageSize, c.TLBSize, c.TimerTicks)
	log.Infof("Config.UserStackPages: %d", c.UserStackPages)
	log.Infof("Config.TLBReplacement: %v", c.TLBReplacement)
	log.Infof("Config.Seed: %d", c.Seed)
	log.Infof("Config.Debug: %t", c.Debug)
}
