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

package config

import (
	"flag"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strconv"

	"github.com/BurntSushi/toml"

	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/sentry/kernel"
)

// configFlag names the machine file flag. The file is not part of Config.
const configFlag = "config"

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String(configFlag, "", "TOML machine file supplying any of the flags below by name. Flags given on the command line take precedence.")

	// Debugging flags.
	flagSet.Bool("debug", false, "enable debug logging.")
	flagSet.String("log-format", "text", "log format: text (default), json, or json-k8s.")
	flagSet.String("debug-log", "", "additional location for logs. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.Bool("metrics", false, "print Prometheus metrics to stdout after the run.")

	// Machine geometry.
	flagSet.Int("num-phys-pages", machine.DefaultNumPhysPages, "number of physical frames.")
	flagSet.Int("page-size", machine.DefaultPageSize, "page size in bytes, a multiple of the instruction size.")
	flagSet.Int("tlb-size", machine.DefaultTLBSize, "number of TLB slots.")
	flagSet.Int("timer-ticks", machine.DefaultTimerTicks, "instructions between timer interrupts, 0 disables preemption.")

	// Kernel behavior.
	flagSet.Int("user-stack-pages", 8, "user stack size in pages.")
	flagSet.Var(tlbPolicyPtr(kernel.TLBFIFO), "tlb-replacement", "TLB slot replacement on a miss: fifo (default), aging.")
	flagSet.Uint64("seed", 0, "seed for replacement tie breaks, 0 picks one from the clock.")
	flagSet.String("disk", "", "host directory holding executables and swap files. Empty uses an in-memory disk loaded with the sample programs.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags and, for flags left unset, from the machine file named by --config.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	if fl := flagSet.Lookup(configFlag); fl != nil && fl.Value.String() != "" {
		if err := applyFile(flagSet, fl.Value.String()); err != nil {
			return nil, err
		}
	}

	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// applyFile sets every flag named in the TOML file at path that was not set
// on the command line.
func applyFile(flagSet *flag.FlagSet, path string) error {
	var values map[string]any
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return fmt.Errorf("reading machine file %q: %w", path, err)
	}
	explicit := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) { explicit[fl.Name] = true })

	known := flagNames()
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if !known[name] {
			return fmt.Errorf("machine file %q: unknown setting %q", path, name)
		}
		if explicit[name] {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if err := fl.Value.Set(fmt.Sprint(values[name])); err != nil {
			return fmt.Errorf("machine file %q: setting %s=%v: %w", path, name, values[name], err)
		}
	}
	return nil
}

// flagNames returns the names of all flags backed by a Config field.
func flagNames() map[string]bool {
	names := make(map[string]bool)
	st := reflect.TypeOf(Config{})
	for i := 0; i < st.NumField(); i++ {
		if name, ok := st.Field(i).Tag.Lookup("flag"); ok {
			names[name] = true
		}
	}
	return names
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}

// tlbPolicyValue adapts kernel.TLBPolicy to flag.Getter.
type tlbPolicyValue struct {
	p *kernel.TLBPolicy
}

func tlbPolicyPtr(p kernel.TLBPolicy) *tlbPolicyValue {
	return &tlbPolicyValue{p: &p}
}

// Set implements flag.Value.
func (v *tlbPolicyValue) Set(s string) error {
	p, err := kernel.ParseTLBPolicy(s)
	if err != nil {
		return err
	}
	*v.p = p
	return nil
}

// Get implements flag.Getter.
func (v *tlbPolicyValue) Get() any {
	return *v.p
}

// String implements flag.Value.
func (v *tlbPolicyValue) String() string {
	if v.p == nil {
		return kernel.TLBFIFO.String()
	}
	return v.p.String()
}
