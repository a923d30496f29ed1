// Package schedule fires scripted probes at fixed turn numbers.
package schedule

import (
	"fmt"
	"sort"

	"github.com/lazypower/thoughtloop/internal/config"
)

// Protocol is an immutable turn → probe table plus an optional chapter
// resource.
type Protocol struct {
	Name        string
	Description string
	probes      map[int]string

	Book      string
	StartTurn int
	Interval  int
	Drip      bool
}

// NewProtocol copies probes into a new protocol.
func NewProtocol(name string, cfg config.Protocol) Protocol {
	probes := make(map[int]string, len(cfg.Probes))
	for turn, text := range cfg.Probes {
		probes[turn] = text
	}
	return Protocol{
		Name:        name,
		Description: cfg.Description,
		probes:      probes,
		Book:        cfg.Book,
		StartTurn:   cfg.StartTurn,
		Interval:    cfg.Interval,
		Drip:        cfg.Drip,
	}
}

// Turns returns the probe turns in ascending order.
func (p Protocol) Turns() []int {
	turns := make([]int, 0, len(p.probes))
	for t := range p.probes {
		turns = append(turns, t)
	}
	sort.Ints(turns)
	return turns
}

// Probe returns the probe scheduled at turn.
func (p Protocol) Probe(turn int) (string, bool) {
	text, ok := p.probes[turn]
	return text, ok
}

// Registry holds the known protocols by name.
type Registry map[string]Protocol

// NewRegistry builds a registry from config.
func NewRegistry(cfgs map[string]config.Protocol) Registry {
	r := make(Registry, len(cfgs))
	for name, c := range cfgs {
		r[name] = NewProtocol(name, c)
	}
	return r
}

// Names returns the protocol names sorted.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Firing is a probe due at a turn.
type Firing struct {
	Protocol string
	Turn     int
	Text     string
}

// Scheduler tracks the active protocol and which turns have fired. Not safe
// for concurrent use; the engine owns it.
type Scheduler struct {
	registry     Registry
	active       *Protocol
	fired        map[int]bool
	chapters     []string
	chapterFired map[int]bool
}

// New returns an inactive scheduler over registry.
func New(registry Registry) *Scheduler {
	return &Scheduler{
		registry:     registry,
		fired:        make(map[int]bool),
		chapterFired: make(map[int]bool),
	}
}

// Registry returns the known protocols.
func (s *Scheduler) Registry() Registry {
	return s.registry
}

// Activate switches to the named protocol, replacing the mapping and clearing
// the fired sets. A protocol with a book loads its chapters first; a load
// failure is returned and leaves the scheduler as it was.
func (s *Scheduler) Activate(name string) error {
	p, ok := s.registry[name]
	if !ok {
		return fmt.Errorf("unknown protocol: %q", name)
	}
	var chapters []string
	if p.Book != "" {
		var err error
		chapters, err = LoadChapters(p.Book)
		if err != nil {
			return fmt.Errorf("protocol %s: %w", name, err)
		}
	}
	s.active = &p
	s.chapters = chapters
	s.ResetFired()
	return nil
}

// Deactivate turns experiment mode off.
func (s *Scheduler) Deactivate() {
	s.active = nil
	s.chapters = nil
	s.ResetFired()
}

// Active returns the active protocol name, or "".
func (s *Scheduler) Active() string {
	if s.active == nil {
		return ""
	}
	return s.active.Name
}

// Check returns the probe due at turn n, marking it fired. Each turn fires at
// most once however often it is checked.
func (s *Scheduler) Check(n int) (Firing, bool) {
	if s.active == nil || s.fired[n] {
		return Firing{}, false
	}
	text, ok := s.active.Probe(n)
	if !ok {
		return Firing{}, false
	}
	s.fired[n] = true
	return Firing{Protocol: s.active.Name, Turn: n, Text: text}, true
}

// Fired returns the turns whose probe has fired, in ascending order. Chapter
// injections are tracked separately.
func (s *Scheduler) Fired() []int {
	turns := make([]int, 0, len(s.fired))
	for t := range s.fired {
		turns = append(turns, t)
	}
	sort.Ints(turns)
	return turns
}

// ResetFired clears the probe and chapter fired sets without changing the
// protocol.
func (s *Scheduler) ResetFired() {
	s.fired = make(map[int]bool)
	s.chapterFired = make(map[int]bool)
}

// Chapters returns the loaded chapter count.
func (s *Scheduler) Chapters() int {
	return len(s.chapters)
}

// ChapterDue is the chapter-drip hook: one chapter every Interval turns from
// StartTurn. It stays inert unless the protocol sets Drip.
func (s *Scheduler) ChapterDue(n int) (Firing, bool) {
	if s.active == nil || !s.active.Drip || len(s.chapters) == 0 || s.active.Interval <= 0 {
		return Firing{}, false
	}
	p := s.active
	if n < p.StartTurn || (n-p.StartTurn)%p.Interval != 0 {
		return Firing{}, false
	}
	idx := (n - p.StartTurn) / p.Interval
	if idx >= len(s.chapters) || s.chapterFired[n] {
		return Firing{}, false
	}
	s.chapterFired[n] = true
	return Firing{Protocol: p.Name, Turn: n, Text: s.chapters[idx]}, true
}
