package sheraf

import "fmt"

type (
	// Change describes a committed-to-be mutation of an instance, delivered to
	// Conn.OnChange listeners right after it is applied.
	Change struct {
		model *Model
		op    Op
		id    any
		inst  *Instance
		attr  *Attribute
	}

	Op int
)

const (
	OpNone   Op = 0
	OpCreate Op = 1
	OpUpdate Op = 2
	OpDelete Op = 3
)

func (chg *Change) Model() *Model {
	return chg.model
}
func (chg *Change) Op() Op {
	return chg.op
}

// ID returns the identifier of the changed instance.
func (chg *Change) ID() any {
	return chg.id
}
func (chg *Change) Instance() *Instance {
	return chg.inst
}

// Attribute returns the written attribute of an OpUpdate change.
func (chg *Change) Attribute() *Attribute {
	return chg.attr
}

func (chg *Change) String() string {
	if chg.attr != nil {
		return fmt.Sprintf("%v %s[%v].%s", chg.op, chg.model.table, chg.id, chg.attr.name)
	}
	return fmt.Sprintf("%v %s[%v]", chg.op, chg.model.table, chg.id)
}

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

// OnChange registers f to be called after every instance mutation made
// through c. Listeners are kept for the lifetime of the connection.
func (c *Conn) OnChange(f func(chg *Change)) {
	c.listeners = append(c.listeners, f)
}

func (c *Conn) notify(op Op, inst *Instance, attr *Attribute) {
	if len(c.listeners) == 0 {
		return
	}
	chg := &Change{
		model: inst.model,
		op:    op,
		id:    inst.ID(),
		inst:  inst,
		attr:  attr,
	}
	for _, f := range c.listeners {
		f(chg)
	}
}
