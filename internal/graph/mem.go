package graph

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/roach88/weft/internal/ir"
)

// Mem is an in-memory program graph.
type Mem struct {
	mu      sync.RWMutex
	st      *state
	version uint64

	nextFunction atomic.Uint64
	nextNode     atomic.Uint64
	nextModule   atomic.Uint64
}

type function struct {
	meta  ir.FunctionMetadata
	nodes map[ir.NodeID]struct{}
}

type state struct {
	modules   map[ir.ModuleID]ir.ModuleMetadata
	functions map[ir.FunctionID]*function
	nodes     map[ir.NodeID]ir.Node
	edges     map[ir.NodeID][]ir.OutgoingEdge
	incoming  map[ir.NodeID]map[ir.NodeID]int // target -> source -> edge count

	functionNames map[string]ir.FunctionID
	moduleNames   map[string]ir.ModuleID
	nodeNames     map[string]ir.NodeID // "function.node"
}

func newState() *state {
	return &state{
		modules:       make(map[ir.ModuleID]ir.ModuleMetadata),
		functions:     make(map[ir.FunctionID]*function),
		nodes:         make(map[ir.NodeID]ir.Node),
		edges:         make(map[ir.NodeID][]ir.OutgoingEdge),
		incoming:      make(map[ir.NodeID]map[ir.NodeID]int),
		functionNames: make(map[string]ir.FunctionID),
		moduleNames:   make(map[string]ir.ModuleID),
		nodeNames:     make(map[string]ir.NodeID),
	}
}

// clone copies every container so the copy can be mutated freely. Node
// values and edge slices are shared until replaced.
func (s *state) clone() *state {
	out := &state{
		modules:       maps.Clone(s.modules),
		functions:     make(map[ir.FunctionID]*function, len(s.functions)),
		nodes:         maps.Clone(s.nodes),
		edges:         maps.Clone(s.edges),
		incoming:      make(map[ir.NodeID]map[ir.NodeID]int, len(s.incoming)),
		functionNames: maps.Clone(s.functionNames),
		moduleNames:   maps.Clone(s.moduleNames),
		nodeNames:     maps.Clone(s.nodeNames),
	}
	for id, fn := range s.functions {
		out.functions[id] = &function{meta: fn.meta, nodes: maps.Clone(fn.nodes)}
	}
	for id, srcs := range s.incoming {
		out.incoming[id] = maps.Clone(srcs)
	}
	return out
}

// NewMem returns an empty graph.
func NewMem() *Mem {
	return &Mem{st: newState()}
}

// NewFunctionID reserves a fresh function id.
func (m *Mem) NewFunctionID() ir.FunctionID {
	return ir.FunctionID(m.nextFunction.Add(1))
}

// NewNodeID reserves a fresh node id.
func (m *Mem) NewNodeID() ir.NodeID {
	return ir.NodeID(m.nextNode.Add(1))
}

// NewModuleID reserves a fresh module id.
func (m *Mem) NewModuleID() ir.ModuleID {
	return ir.ModuleID(m.nextModule.Add(1))
}

// Version returns the number of batches applied so far.
func (m *Mem) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Functions implements Reader.
func (m *Mem) Functions() map[ir.FunctionID]ir.FunctionMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[ir.FunctionID]ir.FunctionMetadata, len(m.st.functions))
	for id, fn := range m.st.functions {
		out[id] = fn.meta
	}
	return out
}

// Modules returns metadata for every module.
func (m *Mem) Modules() map[ir.ModuleID]ir.ModuleMetadata {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.st.modules)
}

// FunctionNodes implements Reader.
func (m *Mem) FunctionNodes(fid ir.FunctionID) ([]ir.NodeID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.st.functions[fid]
	if !ok {
		return nil, &FunctionNotFoundError{ID: fid}
	}
	ids := make([]ir.NodeID, 0, len(fn.nodes))
	for id := range fn.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// ComputeNode implements Reader.
func (m *Mem) ComputeNode(nid ir.NodeID) (ir.Node, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.st.nodes[nid]
	if !ok {
		return ir.Node{}, &NodeNotFoundError{ID: nid}
	}
	return n, nil
}

// OutgoingEdges implements Reader.
func (m *Mem) OutgoingEdges(nid ir.NodeID) ([]ir.OutgoingEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.st.nodes[nid]; !ok {
		return nil, &NodeNotFoundError{ID: nid}
	}
	return slices.Clone(m.st.edges[nid]), nil
}

// Owner returns the function owning nid.
func (m *Mem) Owner(nid ir.NodeID) (ir.FunctionID, error) {
	n, err := m.ComputeNode(nid)
	if err != nil {
		return 0, err
	}
	return n.Owner, nil
}

// FunctionByName looks up a function by name.
func (m *Mem) FunctionByName(name string) (ir.FunctionID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.st.functionNames[name]
	return id, ok
}

// ModuleByName looks up a module by name.
func (m *Mem) ModuleByName(name string) (ir.ModuleID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.st.moduleNames[name]
	return id, ok
}

// NodeByName looks up a node loaded from a program by its function and
// node names.
func (m *Mem) NodeByName(function, node string) (ir.NodeID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.st.nodeNames[function+"."+node]
	return id, ok
}

// AddModule creates a module outside of a batch.
func (m *Mem) AddModule(name string) (ir.ModuleID, error) {
	id := m.NewModuleID()
	if err := m.Apply([]Mutation{AddModule{ID: id, Name: name}}); err != nil {
		return 0, err
	}
	return id, nil
}

// AddFunction creates a function outside of a batch.
func (m *Mem) AddFunction(name string, module ir.ModuleID, vis ir.Visibility) (ir.FunctionID, error) {
	id := m.NewFunctionID()
	if err := m.Apply([]Mutation{AddFunction{ID: id, Name: name, Module: module, Visibility: vis}}); err != nil {
		return 0, err
	}
	return id, nil
}

// Apply validates and applies a batch atomically: either every mutation
// takes effect or none does.
func (m *Mem) Apply(batch []Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.st.clone()
	for i, mut := range batch {
		if err := next.apply(mut); err != nil {
			return &MutationError{Index: i, Kind: mut.mutationKind(), Message: "rejected", Cause: err}
		}
	}
	m.st = next
	m.version++
	return nil
}

func (s *state) apply(mut Mutation) error {
	switch mu := mut.(type) {
	case AddModule:
		return s.addModule(mu)
	case AddFunction:
		return s.addFunction(mu)
	case InsertNode:
		return s.insertNode(mu)
	case RemoveNode:
		return s.removeNode(mu)
	case ModifyNode:
		return s.modifyNode(mu)
	case InsertEdge:
		return s.insertEdge(mu)
	case RemoveEdge:
		return s.removeEdge(mu)
	default:
		return fmt.Errorf("unsupported mutation %T", mut)
	}
}

func (s *state) addModule(mu AddModule) error {
	if mu.ID == 0 {
		return fmt.Errorf("module id must be non-zero")
	}
	if mu.Name == "" {
		return fmt.Errorf("module name is required")
	}
	if _, ok := s.modules[mu.ID]; ok {
		return fmt.Errorf("module %s already exists", mu.ID)
	}
	if _, ok := s.moduleNames[mu.Name]; ok {
		return fmt.Errorf("module name %q already in use", mu.Name)
	}
	s.modules[mu.ID] = ir.ModuleMetadata{ID: mu.ID, Name: mu.Name}
	s.moduleNames[mu.Name] = mu.ID
	return nil
}

func (s *state) addFunction(mu AddFunction) error {
	if mu.ID == 0 {
		return fmt.Errorf("function id must be non-zero")
	}
	if mu.Name == "" {
		return fmt.Errorf("function name is required")
	}
	if _, ok := s.functions[mu.ID]; ok {
		return fmt.Errorf("function %s already exists", mu.ID)
	}
	if _, ok := s.functionNames[mu.Name]; ok {
		return fmt.Errorf("function name %q already in use", mu.Name)
	}
	if _, ok := s.modules[mu.Module]; !ok {
		return fmt.Errorf("module %s not found", mu.Module)
	}
	vis := mu.Visibility
	if vis == "" {
		vis = ir.VisibilityPrivate
	}
	s.functions[mu.ID] = &function{
		meta:  ir.FunctionMetadata{ID: mu.ID, Name: mu.Name, Visibility: vis, Module: mu.Module},
		nodes: make(map[ir.NodeID]struct{}),
	}
	s.functionNames[mu.Name] = mu.ID
	return nil
}

func (s *state) insertNode(mu InsertNode) error {
	if mu.ID == 0 {
		return fmt.Errorf("node id must be non-zero")
	}
	if _, ok := s.nodes[mu.ID]; ok {
		return fmt.Errorf("node %s already exists", mu.ID)
	}
	fn, ok := s.functions[mu.Owner]
	if !ok {
		return &FunctionNotFoundError{ID: mu.Owner}
	}
	if err := mu.Op.Validate(); err != nil {
		return err
	}
	s.nodes[mu.ID] = ir.Node{ID: mu.ID, Owner: mu.Owner, Op: mu.Op.Clone()}
	fn.nodes[mu.ID] = struct{}{}
	return nil
}

func (s *state) removeNode(mu RemoveNode) error {
	n, ok := s.nodes[mu.ID]
	if !ok {
		return &NodeNotFoundError{ID: mu.ID}
	}
	for _, out := range s.edges[mu.ID] {
		s.dropIncoming(out.Target, mu.ID)
	}
	delete(s.edges, mu.ID)
	for src := range s.incoming[mu.ID] {
		kept := make([]ir.OutgoingEdge, 0, len(s.edges[src]))
		for _, out := range s.edges[src] {
			if out.Target != mu.ID {
				kept = append(kept, out)
			}
		}
		s.edges[src] = kept
	}
	delete(s.incoming, mu.ID)
	delete(s.nodes, mu.ID)
	delete(s.functions[n.Owner].nodes, mu.ID)
	for name, id := range s.nodeNames {
		if id == mu.ID {
			delete(s.nodeNames, name)
		}
	}
	return nil
}

func (s *state) modifyNode(mu ModifyNode) error {
	n, ok := s.nodes[mu.ID]
	if !ok {
		return &NodeNotFoundError{ID: mu.ID}
	}
	if err := mu.Op.Validate(); err != nil {
		return err
	}
	n.Op = mu.Op.Clone()
	s.nodes[mu.ID] = n
	return nil
}

func (s *state) insertEdge(mu InsertEdge) error {
	if _, ok := s.nodes[mu.Source]; !ok {
		return &NodeNotFoundError{ID: mu.Source}
	}
	if _, ok := s.nodes[mu.Target]; !ok {
		return &NodeNotFoundError{ID: mu.Target}
	}
	if err := mu.Edge.Validate(); err != nil {
		return err
	}
	edges := slices.Clone(s.edges[mu.Source])
	s.edges[mu.Source] = append(edges, ir.OutgoingEdge{Target: mu.Target, Edge: mu.Edge})
	srcs := s.incoming[mu.Target]
	if srcs == nil {
		srcs = make(map[ir.NodeID]int)
		s.incoming[mu.Target] = srcs
	}
	srcs[mu.Source]++
	return nil
}

func (s *state) removeEdge(mu RemoveEdge) error {
	if _, ok := s.nodes[mu.Source]; !ok {
		return &NodeNotFoundError{ID: mu.Source}
	}
	edges := s.edges[mu.Source]
	idx := slices.IndexFunc(edges, func(out ir.OutgoingEdge) bool {
		return out.Target == mu.Target && out.Edge == mu.Edge
	})
	if idx < 0 {
		return fmt.Errorf("no %s edge from %s to %s", mu.Edge.Kind, mu.Source, mu.Target)
	}
	s.edges[mu.Source] = slices.Delete(slices.Clone(edges), idx, idx+1)
	s.dropIncoming(mu.Target, mu.Source)
	return nil
}

func (s *state) dropIncoming(target, source ir.NodeID) {
	srcs := s.incoming[target]
	if srcs == nil {
		return
	}
	srcs[source]--
	if srcs[source] <= 0 {
		delete(srcs, source)
	}
	if len(srcs) == 0 {
		delete(s.incoming, target)
	}
}
