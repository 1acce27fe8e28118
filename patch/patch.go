package patch

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyApplied = errors.New("entry point is already patched")
	ErrNotApplied     = errors.New("entry point is not patched")
)

// State is the state of a Patcher.
type State int

const (
	Clean State = iota
	Patched
)

func (s State) String() string {
	if s == Patched {
		return "patched"
	}
	return "clean"
}

// Patcher owns one outstanding entry point modification.
type Patcher struct {
	template  Template
	bootstrap uintptr
	protect   func(addr uintptr, n int) error

	state  State
	target uintptr
	backup []byte
}

type Option func(p *Patcher)

// WithProtect replaces the function that makes the patched range writable.
// The default is MakeRWX.
func WithProtect(f func(addr uintptr, n int) error) Option {
	return func(p *Patcher) {
		p.protect = f
	}
}

// New returns a patcher whose trampoline calls the routine at bootstrap, using the native instruction set.
func New(bootstrap uintptr, opts ...Option) *Patcher {
	p, err := NewWithTemplate(Native(), bootstrap, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// NewWithTemplate returns a patcher using t. Writing a foreign template is only useful on memory that is never executed.
func NewWithTemplate(t Template, bootstrap uintptr, opts ...Option) (*Patcher, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	p := &Patcher{
		template:  t,
		bootstrap: bootstrap,
		protect:   MakeRWX,
		backup:    make([]byte, t.Size()),
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

func (p *Patcher) State() State {
	return p.state
}

// Target is the address of the outstanding patch, or zero when clean.
func (p *Patcher) Target() uintptr {
	return p.target
}

// Apply saves the bytes at entry and overwrites them with the trampoline.
// The memory at entry must be mapped and at least Template.Size bytes long.
func (p *Patcher) Apply(entry uintptr) error {
	if p.state == Patched {
		return ErrAlreadyApplied
	}
	n := p.template.Size()
	if err := p.protect(entry, n); err != nil {
		return fmt.Errorf("making %#x writable: %w", entry, err)
	}

	mem := memoryAt(entry, n)
	copy(p.backup, mem)
	copy(mem, p.template.Assemble(p.bootstrap))

	p.target = entry
	p.state = Patched
	return nil
}

// Restore writes the saved bytes back and returns the number of trampoline instruction bytes
// preceding the address immediate. Where the call sits in the template differs by architecture,
// so rewinding a captured return address by this amount does not land on the entry in general.
// On ARM64 the call returns to entry+8 and the rewind reaches the entry; on AMD64 the call
// ends the 12-byte template and the rewound address is entry+8. Callers that need the entry
// should use Target before restoring.
func (p *Patcher) Restore() (int, error) {
	if p.state != Patched {
		return 0, ErrNotApplied
	}
	copy(memoryAt(p.target, len(p.backup)), p.backup)

	p.target = 0
	p.state = Clean
	return p.template.ReturnAdjust(), nil
}
