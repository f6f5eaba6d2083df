package plan

import (
	"fmt"
	"strings"
)

const bannerWidth = 80

// banner centers title in a line of '=' bannerWidth wide, extra padding goes right
func banner(title string) string {
	pad := bannerWidth - len(title)
	if pad <= 0 {
		return title
	}
	left := pad / 2
	return strings.Repeat("=", left) + title + strings.Repeat("=", pad-left)
}

// Summarize iterates p and describes what it would do, one line per
// notable message.  Each save lists the names read since the last one,
// quoted, e.g. "  Read ['pe1c', 'temp']".  The plan is consumed.
func Summarize(p Plan) (string, error) {
	var (
		out   []string
		reads []string
	)
	err := p(func(m Msg) bool {
		switch m.Command {
		case OpenRun:
			out = append(out, banner(" Open Run "))
		case CloseRun:
			out = append(out, banner(" Close Run "))
		case Set:
			var v interface{}
			if len(m.Args) > 0 {
				v = m.Args[0]
			}
			name := "None"
			if m.Obj != nil {
				name = m.Obj.Name()
			}
			out = append(out, fmt.Sprintf("%s -> %v", name, v))
		case Read:
			if m.Obj != nil {
				reads = append(reads, "'"+m.Obj.Name()+"'")
			}
		case Save:
			out = append(out, fmt.Sprintf("  Read [%s]", strings.Join(reads, ", ")))
			reads = nil
		}
		return true
	})
	return strings.Join(out, "\n"), err
}
