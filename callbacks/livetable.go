// Package callbacks contains document consumers: a live table for the
// terminal, an in-memory broker, and a write verifier.
package callbacks

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/xpdacq/acq/plan"
	"github.com/xpdacq/acq/runengine"
)

const colWidth = 14

// LiveTable prints a row per event for the fields of a set of devices
type LiveTable struct {
	w       io.Writer
	devices map[string]bool
	fields  []string
	widths  []int
	descs   map[interface{}]bool
	header  *color.Color
	start   runengine.Document
}

// NewLiveTable returns a table that shows the fields produced by devices.
// w defaults to stdout.
func NewLiveTable(devices []plan.Named, w io.Writer) *LiveTable {
	if w == nil {
		w = os.Stdout
	}
	names := make(map[string]bool, len(devices))
	for _, d := range devices {
		names[d.Name()] = true
	}
	return &LiveTable{
		w:       w,
		devices: names,
		descs:   map[interface{}]bool{},
		header:  color.New(color.Bold),
	}
}

// Callback is the runengine.Callback for the table
func (lt *LiveTable) Callback(name string, doc runengine.Document) error {
	switch name {
	case runengine.DocStart:
		lt.fields = nil
		lt.widths = nil
		lt.descs = map[interface{}]bool{}
		lt.start = doc
	case runengine.DocDescriptor:
		return lt.descriptor(doc)
	case runengine.DocEvent:
		return lt.event(doc)
	case runengine.DocStop:
		if lt.fields == nil {
			return nil
		}
		_, err := fmt.Fprintf(lt.w, "%s\ngenerator %v ['%v'] (scan num: %v) %v\n",
			lt.border(), lt.start["plan_name"], short(doc["run_start"]), lt.start["scan_id"], doc["exit_status"])
		return err
	}
	return nil
}

func short(v interface{}) string {
	s := fmt.Sprint(v)
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func (lt *LiveTable) border() string {
	n := -1
	for _, w := range lt.widths {
		n += w + 3
	}
	return "+" + strings.Repeat("-", n) + "+"
}

func (lt *LiveTable) descriptor(doc runengine.Document) error {
	keys, _ := doc["data_keys"].(map[string]interface{})
	var fields []string
	for k, v := range keys {
		meta, _ := v.(map[string]interface{})
		if src, _ := meta["source"].(string); lt.devices[src] {
			fields = append(fields, k)
		}
	}
	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields)
	lt.descs[doc["uid"]] = true
	if lt.fields != nil {
		return nil
	}
	lt.fields = fields
	cols := append([]string{"seq_num", "time"}, fields...)
	// columns widen to fit their field name
	lt.widths = make([]int, len(cols))
	cells := make([]string, len(cols))
	for i, c := range cols {
		lt.widths[i] = colWidth
		if len(c) > colWidth {
			lt.widths[i] = len(c)
		}
		cells[i] = fmt.Sprintf("%*s", lt.widths[i], c)
	}
	fmt.Fprintln(lt.w, lt.border())
	_, err := lt.header.Fprintf(lt.w, "| %s |\n", strings.Join(cells, " | "))
	fmt.Fprintln(lt.w, lt.border())
	return err
}

func (lt *LiveTable) event(doc runengine.Document) error {
	if !lt.descs[doc["descriptor"]] {
		return nil
	}
	data, _ := doc["data"].(map[string]interface{})
	cells := []string{fmt.Sprintf("%*v", lt.widths[0], doc["seq_num"])}
	ts, _ := doc["time"].(float64)
	stamp := time.Unix(0, int64(ts*1e9)).Format("15:04:05.0")
	cells = append(cells, fmt.Sprintf("%*s", lt.widths[1], stamp))
	for i, f := range lt.fields {
		cells = append(cells, cell(data[f], lt.widths[i+2]))
	}
	_, err := fmt.Fprintf(lt.w, "| %s |\n", strings.Join(cells, " | "))
	return err
}

func cell(v interface{}, width int) string {
	switch t := v.(type) {
	case float64:
		return fmt.Sprintf("%*.4f", width, t)
	case float32:
		return fmt.Sprintf("%*.4f", width, t)
	case nil:
		return strings.Repeat(" ", width)
	}
	return fmt.Sprintf("%*v", width, v)
}
