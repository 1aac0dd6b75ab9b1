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

// Package prometheus contains Prometheus-compliant metric data structures and utilities.
// It can export data in Prometheus data format, documented at:
// https://prometheus.io/docs/instrumenting/exposition_formats/
package prometheus

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

// Type is a Prometheus metric type.
type Type int

// List of supported Prometheus metric types.
const (
	TypeUntyped = Type(iota)
	TypeGauge
	TypeCounter
)

// String returns the type as written in a # TYPE line.
func (t Type) String() string {
	switch t {
	case TypeGauge:
		return "gauge"
	case TypeCounter:
		return "counter"
	default:
		return "untyped"
	}
}

// Metric is the metadata of a metric.
type Metric struct {
	// Name is the Prometheus metric name.
	Name string

	// Type is the metric type.
	Type Type

	// Help is an optional description.
	Help string
}

func (m *Metric) writeHeaderTo(w io.Writer, prefix string) error {
	if m.Help != "" {
		// Prometheus metric description escape rules: Only backslashes and line breaks need escaping.
		help := strings.ReplaceAll(strings.ReplaceAll(m.Help, "\\", "\\\\"), "\n", "\\n")
		if _, err := fmt.Fprintf(w, "# HELP %s%s %s\n", prefix, m.Name, help); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "# TYPE %s%s %s\n", prefix, m.Name, m.Type)
	return err
}

// Data is one sample of a metric.
type Data struct {
	// Metric is the metric this sample belongs to.
	Metric *Metric

	// Labels are the sample's label values.
	Labels map[string]string

	// Value is the sample value.
	Value int64
}

// LabeledIntData returns a sample with labels.
func LabeledIntData(metric *Metric, labels map[string]string, val int64) *Data {
	return &Data{Metric: metric, Labels: labels, Value: val}
}

// NewIntData returns an unlabeled sample.
func NewIntData(metric *Metric, val int64) *Data {
	return LabeledIntData(metric, nil, val)
}

// writeLabelValue escapes a label value: backslashes, double quotes and
// line breaks.
func writeLabelValue(w io.Writer, v string) error {
	r := strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")
	_, err := io.WriteString(w, r.Replace(v))
	return err
}

func (d *Data) writeTo(w io.Writer, prefix string) error {
	if _, err := fmt.Fprintf(w, "%s%s", prefix, d.Metric.Name); err != nil {
		return err
	}
	if len(d.Labels) > 0 {
		keys := make([]string, 0, len(d.Labels))
		for k := range d.Labels {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		io.WriteString(w, "{")
		for i, k := range keys {
			if i > 0 {
				io.WriteString(w, ",")
			}
			fmt.Fprintf(w, "%s=\"", k)
			if err := writeLabelValue(w, d.Labels[k]); err != nil {
				return err
			}
			io.WriteString(w, "\"")
		}
		io.WriteString(w, "}")
	}
	_, err := fmt.Fprintf(w, " %d\n", d.Value)
	return err
}

// Snapshot is a set of samples taken at the same time.
type Snapshot struct {
	// Data is the samples. Samples of one metric must share a *Metric.
	Data []*Data
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// Add adds samples to the snapshot and returns it.
func (s *Snapshot) Add(data ...*Data) *Snapshot {
	s.Data = append(s.Data, data...)
	return s
}

// countingWriter counts the bytes written through it.
type countingWriter struct {
	w       io.Writer
	written int
}

// Write implements io.Writer.Write.
func (w *countingWriter) Write(b []byte) (int, error) {
	n, err := w.w.Write(b)
	w.written += n
	return n, err
}

// Write writes s to w in text exposition format. Metric names are prefixed
// with prefix. Metrics are written in name order, each with its HELP and TYPE
// header once followed by all of its samples. It returns the number of bytes
// written.
func Write(w io.Writer, prefix string, s *Snapshot) (int, error) {
	byName := make(map[string][]*Data)
	var names []string
	for _, d := range s.Data {
		if _, ok := byName[d.Metric.Name]; !ok {
			names = append(names, d.Metric.Name)
		}
		byName[d.Metric.Name] = append(byName[d.Metric.Name], d)
	}
	sort.Strings(names)

	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}
	for _, name := range names {
		samples := byName[name]
		if err := samples[0].Metric.writeHeaderTo(cw, prefix); err != nil {
			return cw.written, err
		}
		for _, d := range samples {
			if d.Metric != samples[0].Metric {
				return cw.written, fmt.Errorf("metric %q has conflicting definitions", name)
			}
			if err := d.writeTo(cw, prefix); err != nil {
				return cw.written, err
			}
		}
	}
	return cw.written, bw.Flush()
}
