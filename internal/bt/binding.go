package bt

import "fmt"

// Direction tags how a declared slot moves data between a node and its
// parent's scope.
type Direction string

const (
	// DirIn slots are read from the parent scope at activation and
	// refreshed before every tick.
	DirIn Direction = "in"

	// DirOut slots written by the node are flushed to the parent scope
	// after each tick and when the parent observes a terminal status.
	DirOut Direction = "out"

	// DirInOut slots are both synchronized in and flushed out.
	DirInOut Direction = "inout"
)

// Slot declares one named parameter of a node. Slots are positional:
// the order of declaration is the order Attach arguments bind in.
type Slot struct {
	Name string
	Dir  Direction
}

// In declares an input slot.
func In(name string) Slot { return Slot{Name: name, Dir: DirIn} }

// Out declares an output slot.
func Out(name string) Slot { return Slot{Name: name, Dir: DirOut} }

// InOut declares a slot that is both input and output.
func InOut(name string) Slot { return Slot{Name: name, Dir: DirInOut} }

// Arg binds one declared slot of a child when the child is attached to
// a composite. Args are positional: the i-th Arg binds the i-th
// declared slot.
type Arg struct {
	variable string
	value    any
	literal  bool
}

// Var binds a slot to the named variable in the parent scope. The
// variable springs into existence on first write.
func Var(name string) Arg { return Arg{variable: name} }

// Val binds a slot to a fixed value. A Val cannot be bound to an out
// slot.
func Val(v any) Arg { return Arg{value: v, literal: true} }

// validateArgs checks positional bindings against a node's declared
// slots at attach time and panics on a mismatch.
func validateArgs(n *Node, args []Arg) {
	if len(args) != len(n.slots) {
		panic(fmt.Sprintf("bt: node %q declares %d slots, got %d bindings", n.kind, len(n.slots), len(args)))
	}
	for i, s := range n.slots {
		if s.Dir != DirIn && args[i].literal {
			panic(fmt.Sprintf("bt: node %q slot %q is %s and cannot bind a literal", n.kind, s.Name, s.Dir))
		}
	}
}
