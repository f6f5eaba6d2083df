/*Package plan describes experiment plans as lazy sequences of messages.

A Plan yields Msg values one at a time to whoever iterates it, usually a run
engine.  Nothing in this package talks to hardware; a Msg only names the
object it targets and the engine decides what that means.

Plans compose:

	p := plan.Chain(
		plan.AbsSet(shutter, 1),
		plan.Count([]plan.Named{det}, 1, md),
		plan.AbsSet(shutter, 0),
	)
*/
package plan

import "fmt"

// Command is the verb of a message
type Command string

const (
	// OpenRun begins a run.  Kwargs hold the run metadata.
	OpenRun Command = "open_run"

	// CloseRun ends the currently open run
	CloseRun Command = "close_run"

	// Set sets Obj to Args[0]
	Set Command = "set"

	// Trigger triggers an acquisition on Obj
	Trigger Command = "trigger"

	// Create opens an event bundle
	Create Command = "create"

	// Read reads Obj into the open bundle
	Read Command = "read"

	// Save closes the open bundle and emits an event
	Save Command = "save"

	// Subscribe attaches Args[0] (a callback) to the Kwargs["name"] stream,
	// Args[1] is the token later given to Unsubscribe
	Subscribe Command = "subscribe"

	// Unsubscribe removes the subscription with token Args[0]
	Unsubscribe Command = "unsubscribe"

	// Checkpoint marks a point the plan may be resumed from
	Checkpoint Command = "checkpoint"
)

// Named is anything with a name.  Every message target satisfies it.
type Named interface {
	Name() string
}

// Msg is a single instruction to the run engine
type Msg struct {
	// Command is the verb
	Command Command

	// Obj is the target of the command, may be nil
	Obj Named

	// Args are positional arguments
	Args []interface{}

	// Kwargs are keyword arguments
	Kwargs map[string]interface{}
}

// String renders the message in a compact human form
func (m Msg) String() string {
	obj := "None"
	if m.Obj != nil {
		obj = m.Obj.Name()
	}
	return fmt.Sprintf("Msg(%s, obj=%s, args=%v, kwargs=%v)", m.Command, obj, m.Args, m.Kwargs)
}
