package ir

// TriggerKind identifies the document event a Transition reacts to.
// The empty trigger fires only from the initial edge or programmatically.
type TriggerKind string

const (
	TriggerNone               TriggerKind = ""
	TriggerOnToDoClose        TriggerKind = "OnToDoClose"
	TriggerOnToDoRemove       TriggerKind = "OnToDoRemove"
	TriggerOnCardUpdate       TriggerKind = "OnCardUpdate"
	TriggerOnSubProcessesDone TriggerKind = "OnSubProcessesDone"
)

// ValidTriggers lists the trigger kinds a Transition may declare.
var ValidTriggers = map[TriggerKind]bool{
	TriggerNone:               true,
	TriggerOnToDoClose:        true,
	TriggerOnToDoRemove:       true,
	TriggerOnCardUpdate:       true,
	TriggerOnSubProcessesDone: true,
}

// Process is a workflow definition.
type Process struct {
	ID   string `json:"-"`
	Name string `json:"name"`
	// MasterTag is the card class executions of this process bind to.
	MasterTag                  string                    `json:"masterTag,omitempty"`
	Context                    map[string]ProcessContext `json:"context,omitempty"`
	ParallelExecutionForbidden bool                      `json:"parallelExecutionForbidden,omitempty"`
}

// SetID implements Identified.
func (p *Process) SetID(id string) { p.ID = id }

// Context slot kinds, by what produces the slot value.
const (
	SlotContext     = "context"
	SlotResult      = "result"
	SlotUserRequest = "userRequest"
)

// ProcessContext is the static declaration of one context slot.
type ProcessContext struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	// Type is the class (for document results) or value type of the slot.
	Type       string `json:"type,omitempty"`
	Transition string `json:"transition,omitempty"`
	Step       string `json:"step,omitempty"`
}

// State is a node of a Process.
type State struct {
	ID      string `json:"-"`
	Process string `json:"process"`
	Title   string `json:"title"`
}

// SetID implements Identified.
func (s *State) SetID(id string) { s.ID = id }

// Transition is a directed edge of a Process. From is nil for the initial
// edge. Guard is a query object matched against the triggering document.
type Transition struct {
	ID      string      `json:"-"`
	Process string      `json:"process"`
	Title   string      `json:"title,omitempty"`
	From    *string     `json:"from"`
	To      string      `json:"to"`
	Trigger TriggerKind `json:"trigger,omitempty"`
	Guard   Object      `json:"guard,omitempty"`
	Rank    int         `json:"rank"`
	Actions []Step      `json:"actions,omitempty"`
}

// SetID implements Identified.
func (t *Transition) SetID(id string) { t.ID = id }

// IsInitial reports whether t is the initial edge of its process.
func (t Transition) IsInitial() bool {
	return t.From == nil
}

// Step is one action invocation within a Transition.
type Step struct {
	ID      string                `json:"_id"`
	Method  string                `json:"methodId"`
	Params  map[string]ParamValue `json:"params,omitempty"`
	Context *StepContext          `json:"context,omitempty"`
	Result  *StepResult           `json:"result,omitempty"`
}

// StepContext names the slot a method's produced value is stored under.
type StepContext struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// StepResult declares a value requested from a user when the step's task
// is completed.
type StepResult struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string {
	return &s
}
